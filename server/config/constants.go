package config

import "fmt"

// HTTP API port, chosen to stay clear of the usual 8080/3000/5000 dev ports
const HTTP_SERVER_PORT = 2847

const (
	LOCALHOST_ADDRESS   = "127.0.0.1"
	DEFAULT_USER_HEADER = "X-User"
	DEFAULT_CONFIG_FILE = "gharp.yml"
	ANONYMOUS_USER      = "anonymous"
)

const (
	MIN_PORT = 1
	MAX_PORT = 65535
)

// IsValidPort checks if a port number is within valid range
func IsValidPort(port int) bool {
	return port >= MIN_PORT && port <= MAX_PORT
}

// DefaultHTTPAddress is the loopback listen address for the API
func DefaultHTTPAddress() string {
	return fmt.Sprintf("%s:%d", LOCALHOST_ADDRESS, HTTP_SERVER_PORT)
}
