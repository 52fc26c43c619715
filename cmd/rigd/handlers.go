package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"github.com/dougsko/rigd/pkg/auth"
	"github.com/dougsko/rigd/pkg/protocol"
	"github.com/dougsko/rigd/pkg/rig"
	"github.com/dougsko/rigd/pkg/storage"
)

func (d *Daemon) routes(router *gin.Engine) {
	read := d.authority.Require(auth.ScopeRead)
	control := d.authority.Require(auth.ScopeControl)

	router.GET("/health", d.handleHealth)
	router.GET("/ws/state", read, d.handleStateWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/status", read, d.handleGetStatus)
		api.GET("/radio", read, d.handleGetRadio)
		api.GET("/caps", read, d.handleGetCaps)
		api.GET("/history", read, d.handleGetHistory)
		api.GET("/models", read, d.handleGetModels)
		api.GET("/serial-ports", read, d.handleGetSerialPorts)

		api.PUT("/radio/frequency", control, d.handleSetFrequency)
		api.PUT("/radio/mode", control, d.handleSetMode)
		api.PUT("/radio/ptt", control, d.handleSetPTT)
		api.PUT("/rotator/position", control, d.handleSetPosition)
		api.POST("/command", control, d.handleCommand)
		api.POST("/token", control, d.handleIssueToken)
	}
}

// httpStatus maps an error code to the HTTP status of the reply.
func httpStatus(code string) int {
	switch code {
	case "", "ok":
		return http.StatusOK
	case rig.CodeInvalidArgument.String():
		return http.StatusBadRequest
	case rig.CodeUnsupported.String():
		return http.StatusNotImplemented
	case rig.CodeTimeout.String():
		return http.StatusGatewayTimeout
	case rig.CodeProtocol.String(), rig.CodeTransport.String():
		return http.StatusBadGateway
	case rig.CodeClosed.String():
		return http.StatusServiceUnavailable
	case rig.CodeCanceled.String():
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// run executes a protocol line and writes the reply.
func (d *Daemon) run(c *gin.Context, line string) {
	_, resp := d.coreEngine.ExecuteLine(c.Request.Context(), line)
	c.JSON(httpStatus(resp.Code), resp)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, protocol.Response{Success: false, Error: err.Error(), Code: rig.CodeInvalidArgument.String()})
}

func (d *Daemon) handleHealth(c *gin.Context) {
	snap := d.monitor.Current()
	status := http.StatusOK
	if snap.State == rig.StateFailed.String() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"state": snap.State, "version": Version})
}

// handleGetStatus returns daemon, device and integration status
func (d *Daemon) handleGetStatus(c *gin.Context) {
	_, resp := d.coreEngine.ExecuteLine(c.Request.Context(), protocol.CmdStatus)
	if !resp.Success {
		c.JSON(httpStatus(resp.Code), resp)
		return
	}
	out := gin.H{
		"status":  resp.Data["status"],
		"devices": resp.Data["devices"],
		"monitor": d.monitor.GetStatistics(),
	}
	if d.publisher != nil {
		out["mqtt"] = d.publisher.Stats()
	}
	if d.influx != nil {
		out["influxdb"] = d.influx.Stats()
	}
	if d.tracer != nil {
		out["trace"] = gin.H{"file": d.config.Trace.File, "records": d.tracer.Records()}
	}
	c.JSON(http.StatusOK, out)
}

// handleGetRadio returns the latest polled state
func (d *Daemon) handleGetRadio(c *gin.Context) {
	snap := d.monitor.Current()
	if snap.Timestamp.IsZero() || c.Query("refresh") == "1" {
		snap = d.monitor.Poll(c.Request.Context())
	}
	c.JSON(http.StatusOK, snap)
}

func (d *Daemon) handleGetCaps(c *gin.Context) {
	device := c.DefaultQuery("device", "rig")
	d.run(c, protocol.CmdDumpCaps+" "+device)
}

func (d *Daemon) handleGetModels(c *gin.Context) {
	var models []gin.H
	for _, caps := range rig.Models() {
		models = append(models, gin.H{
			"model":        caps.Model,
			"manufacturer": caps.Manufacturer,
			"name":         caps.Name,
			"type":         caps.Type.String(),
			"status":       caps.Status.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// handleGetSerialPorts lists serial devices a rig could be attached to
func (d *Daemon) handleGetSerialPorts(c *gin.Context) {
	ports, err := serial.GetPortsList()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ports == nil {
		ports = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"serial_ports": ports})
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("bad %s: %w", name, err)
	}
	return &t, nil
}

// handleGetHistory returns stored rig states, newest first
func (d *Daemon) handleGetHistory(c *gin.Context) {
	if d.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		badRequest(c, fmt.Errorf("bad limit"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		badRequest(c, fmt.Errorf("bad offset"))
		return
	}
	model, err := strconv.Atoi(c.DefaultQuery("model", "0"))
	if err != nil {
		badRequest(c, fmt.Errorf("bad model"))
		return
	}
	query := storage.HistoryQuery{Limit: limit, Offset: offset, Model: model}
	if query.Since, err = parseTimeParam(c, "since"); err != nil {
		badRequest(c, err)
		return
	}
	if query.Until, err = parseTimeParam(c, "until"); err != nil {
		badRequest(c, err)
		return
	}

	states, err := d.store.GetHistory(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := d.store.GetHistoryStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if states == nil {
		states = []storage.RigState{}
	}
	c.JSON(http.StatusOK, gin.H{"states": states, "stats": stats, "limit": limit, "offset": offset})
}

func vfoArg(vfo string) string {
	if vfo == "" {
		return ""
	}
	return vfo + " "
}

// handleSetFrequency sets the rig frequency
func (d *Daemon) handleSetFrequency(c *gin.Context) {
	var req struct {
		Frequency int64  `json:"frequency" binding:"required"`
		VFO       string `json:"vfo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d.run(c, fmt.Sprintf("set_freq %s%d", vfoArg(req.VFO), req.Frequency))
}

func (d *Daemon) handleSetMode(c *gin.Context) {
	var req struct {
		Mode  string `json:"mode" binding:"required"`
		Width *int   `json:"width"`
		VFO   string `json:"vfo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	line := "set_mode " + vfoArg(req.VFO) + req.Mode
	if req.Width != nil {
		line += " " + strconv.Itoa(*req.Width)
	}
	d.run(c, line)
}

func (d *Daemon) handleSetPTT(c *gin.Context) {
	var req struct {
		PTT *bool  `json:"ptt" binding:"required"`
		VFO string `json:"vfo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	on := "0"
	if *req.PTT {
		on = "1"
	}
	d.run(c, "set_ptt "+vfoArg(req.VFO)+on)
}

func (d *Daemon) handleSetPosition(c *gin.Context) {
	var req struct {
		Az *float64 `json:"az" binding:"required"`
		El float64  `json:"el"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d.run(c, fmt.Sprintf("set_pos %g %g", *req.Az, req.El))
}

// handleCommand runs any protocol line
func (d *Daemon) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if line := strings.TrimSpace(req.Command); strings.EqualFold(line, protocol.CmdQuit) || line == "q" {
		badRequest(c, fmt.Errorf("quit is only meaningful on a socket"))
		return
	}
	d.run(c, req.Command)
}

// handleIssueToken mints a token for another client, never with more
// scope than the caller holds.
func (d *Daemon) handleIssueToken(c *gin.Context) {
	if d.authority == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication disabled"})
		return
	}
	var req struct {
		Subject string   `json:"subject" binding:"required"`
		Scopes  []string `json:"scopes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{auth.ScopeRead}
	}
	token, expires, err := d.authority.Issue(req.Subject, req.Scopes...)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expires,
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStateWebSocket streams every polled snapshot to the client
func (d *Daemon) handleStateWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.logger.Warnf("http", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := d.monitor.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(d.ctx)
	defer stop()

	// Reads only detect the close; clients send nothing.
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snap := d.monitor.Current(); !snap.Timestamp.IsZero() {
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				d.logger.Debugf("http", "WebSocket write error: %v", err)
				return
			}
		}
	}
}
