package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "device":
		return deviceTemplate, nil
	case "controller":
		return controllerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const deviceTemplate = `name = "kitchen-light"
node_id = 0x2222
listen = "127.0.0.1:5540"
admin_addr = "127.0.0.1:8540"
admin_token = ""
cors_origins = ["http://localhost:3000"]
peer_identity = "kitchen-light"

handshake_delay = "0s"
response_delay = "0s"
fail_commands = []
drop_responses = false
reject_controllers = []

[[endpoints]]
id = 1
clusters = ["onoff", "levelcontrol", "identify"]

[session]
handshake_timeout = "3s"
write_timeout = "5s"
security_mode = "development"

[session.tls]
enabled = false
`

const controllerTemplate = `local_node_id = 0x1111
session_poll_interval = "1s"
session_poll_iterations = 5
response_timeout = "10s"
exchange_timeout = "8s"

[session]
connect_timeout = "2s"
handshake_timeout = "3s"
write_timeout = "5s"
max_connect_attempts = 3
security_mode = "development"

[session.tls]
enabled = false

[[devices]]
node_id = 0x2222
address = "127.0.0.1:5540"
peer_identity = ""
`
