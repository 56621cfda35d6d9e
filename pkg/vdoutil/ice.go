package vdoutil

import "strings"

// ICEServer is one STUN/TURN entry parsed from user configuration.
type ICEServer struct {
	URL        string
	Username   string
	Credential string
}

// IsICEURL reports whether url carries a stun:/stuns:/turn:/turns: scheme,
// compared case-insensitively.
func IsICEURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "stun:") || strings.HasPrefix(lower, "stuns:") ||
		strings.HasPrefix(lower, "turn:") || strings.HasPrefix(lower, "turns:")
}

// ParseICEServers parses a user-supplied server list. Entries are separated
// by newlines or semicolons; lines starting with # or // are comments.
// Each entry is one of:
//
//	turn:host:3478|username|credential
//	turn:host:3478,username,credential
//	turn:host:3478 username=alice credential=secret
//	turn:host:3478 alice secret
//
// Entries whose URL is not a STUN/TURN scheme are dropped.
func ParseICEServers(config string) []ICEServer {
	var servers []ICEServer
	for _, line := range strings.Split(config, "\n") {
		for _, entry := range strings.Split(line, ";") {
			if server, ok := parseICEEntry(entry); ok {
				servers = append(servers, server)
			}
		}
	}
	return servers
}

func parseICEEntry(entry string) (ICEServer, bool) {
	line := strings.TrimSpace(entry)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return ICEServer{}, false
	}

	var server ICEServer
	switch {
	case strings.Contains(line, "|"):
		fillDelimited(&server, strings.Split(line, "|"))
	case strings.Contains(line, ","):
		fillDelimited(&server, strings.Split(line, ","))
	default:
		tokens := strings.Fields(line)
		if len(tokens) > 0 {
			server.URL = tokens[0]
		}
		for _, token := range tokens[1:] {
			if key, value, found := strings.Cut(token, "="); found {
				switch strings.ToLower(key) {
				case "username", "user":
					server.Username = value
					continue
				case "credential", "password", "pass":
					server.Credential = value
					continue
				}
			}
			if server.Username == "" {
				server.Username = token
			} else if server.Credential == "" {
				server.Credential = token
			}
		}
	}

	server.URL = strings.TrimSpace(server.URL)
	server.Username = strings.TrimSpace(server.Username)
	server.Credential = strings.TrimSpace(server.Credential)
	if server.URL == "" || !IsICEURL(server.URL) {
		return ICEServer{}, false
	}
	return server, true
}

func fillDelimited(server *ICEServer, parts []string) {
	if len(parts) > 0 {
		server.URL = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		server.Username = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		server.Credential = strings.TrimSpace(parts[2])
	}
}
