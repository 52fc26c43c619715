// Package all registers every backend with the rig registry.
package all

import (
	_ "github.com/dougsko/rigd/pkg/backends/dummy"
	_ "github.com/dougsko/rigd/pkg/backends/icom"
	_ "github.com/dougsko/rigd/pkg/backends/spid"
	_ "github.com/dougsko/rigd/pkg/backends/yaesu"
)
