package client

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"
)

// serve answers every line with reply until the listener is closed.
func serve(t *testing.T, reply string) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
				c.Write([]byte(reply + "\n"))
			}(conn)
		}
	}()
	return l.Addr().String()
}

func TestNewSocketClient(t *testing.T) {
	if c := NewSocketClient("/tmp/rigd.sock"); c.network != "unix" {
		t.Errorf("Expected unix network, got %s", c.network)
	}
	if c := NewSocketClient("localhost:4532"); c.network != "tcp" {
		t.Errorf("Expected tcp network, got %s", c.network)
	}
}

func TestDo(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		c := NewSocketClient(serve(t, `{"success":true,"data":{"az":12.5,"el":3}}`))
		az, el, err := c.GetPosition()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if az != 12.5 || el != 3 {
			t.Errorf("Expected 12.5/3, got %v/%v", az, el)
		}
	})

	t.Run("Daemon Error", func(t *testing.T) {
		c := NewSocketClient(serve(t, `{"success":false,"error":"set_ptt: timeout","code":"timeout"}`))
		err := c.SetPTT(true)
		var cerr *Error
		if !errors.As(err, &cerr) {
			t.Fatalf("Expected *Error, got %v", err)
		}
		if cerr.Code != "timeout" {
			t.Errorf("Expected timeout code, got %s", cerr.Code)
		}
		if cerr.Error() != "set_ptt: timeout (timeout)" {
			t.Errorf("Unexpected message %q", cerr.Error())
		}
	})

	t.Run("Missing Field", func(t *testing.T) {
		c := NewSocketClient(serve(t, `{"success":true,"data":{}}`))
		if _, err := c.GetFreq(); err == nil {
			t.Error("Expected error for missing freq")
		}
	})

	t.Run("Garbage Reply", func(t *testing.T) {
		c := NewSocketClient(serve(t, `not json`))
		if err := c.Ping(); err == nil {
			t.Error("Expected parse error")
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		c := NewSocketClient("127.0.0.1:1")
		c.SetTimeout(200 * time.Millisecond)
		if c.IsConnected() {
			t.Error("Expected unreachable daemon")
		}
	})
}
