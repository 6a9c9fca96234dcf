package protocol

import (
	"net/url"

	"github.com/pkg/errors"
)

// Endpoint is a URL of a network-reachable publisher, eg "tcp://host:1234".
// Producers, stores, and consumers each bind one and announce it through
// discovery so that others may subscribe to it.
type Endpoint string

// Validate returns an error if the Endpoint is not an absolute tcp:// URL
// having a host and port.
func (ep Endpoint) Validate() error {
	var u, err = url.Parse(string(ep))
	if err != nil {
		return errors.Wrap(err, "parsing Endpoint")
	} else if u.Scheme != "tcp" {
		return errors.Errorf("unsupported Endpoint scheme (%s; expected tcp)", u.Scheme)
	} else if u.Host == "" || u.Port() == "" {
		return errors.Errorf("Endpoint must have a host and port (%s)", ep)
	} else if u.Path != "" && u.Path != "/" {
		return errors.Errorf("Endpoint may not have a path (%s)", ep)
	}
	return nil
}

// Addr returns the host:port of the Endpoint. The Endpoint must Validate.
func (ep Endpoint) Addr() string {
	var u, err = url.Parse(string(ep))
	if err != nil {
		panic(err.Error())
	}
	return u.Host
}

// String returns the Endpoint as a string.
func (ep Endpoint) String() string { return string(ep) }
