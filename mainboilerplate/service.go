package mainboilerplate

import (
	"math/rand"
	"os"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"go.dafka.dev/core/protocol"
	"go.dafka.dev/core/server"
)

// ServiceConfig represents identification and addressing configuration of the process.
type ServiceConfig struct {
	ID   string `long:"id" env:"ID" description:"Unique name of this process, which is logged. Auto-generated if not set"`
	Host string `long:"host" env:"HOST" description:"Addressable, advertised hostname or IP of this process. Hostname is used if not set"`
	Port uint16 `long:"port" env:"PORT" description:"Service port for protocol frames and HTTP diagnostics. A random port is used if not set"`
}

// ProcessID returns the configured ID, or generates a memorable one.
func (cfg ServiceConfig) ProcessID() string {
	if cfg.ID != "" {
		return cfg.ID
	}
	rand.Seed(time.Now().UnixNano()) // Seed generator for Generate's use.
	return petname.Generate(2, "-")
}

// MustServer binds the Server of the ServiceConfig, and returns it with its
// advertised Endpoint.
func (cfg ServiceConfig) MustServer() (*server.Server, protocol.Endpoint) {
	var srv, err = server.New("", cfg.Port)
	Must(err, "failed to bind server", "port", cfg.Port)

	if cfg.Host == "" {
		cfg.Host, err = os.Hostname()
		Must(err, "failed to determine hostname")
	}
	return srv, srv.Endpoint(cfg.Host)
}
