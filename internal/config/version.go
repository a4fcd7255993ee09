package config

// Version is the build version, injected at build time:
//
//	go build -ldflags "-X 'github.com/updatekit/updatekit/internal/config.Version=1.4.0'" ./cmd/updatekit
var Version = "dev"

// DefaultUserAgent is sent on every request unless server.user_agent overrides it.
func DefaultUserAgent() string {
	return "updatekit/" + Version
}
