// ABOUTME: Placeholder resolution for server configs: {{VAR}} against an env map.
// ABOUTME: Enumerates every missing variable across URL and headers in one error.

package service

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/latchwork/toolgate/internal/client"
	"github.com/latchwork/toolgate/internal/mcperr"
	"github.com/latchwork/toolgate/internal/store"
)

// placeholderPattern matches {{VAR}} references in URLs and header values.
var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// resolveServer expands every placeholder in a stored config against env and
// returns a ready-to-connect client config. A missing variable anywhere in
// the config fails the whole config; all missing names are reported together.
func resolveServer(srv *store.Server, env map[string]string) (client.ServerConfig, error) {
	missing := make(map[string]bool)

	url := expand(srv.URL, env, missing)
	var headers map[string]string
	if len(srv.Headers) > 0 {
		headers = make(map[string]string, len(srv.Headers))
		for k, v := range srv.Headers {
			headers[k] = expand(v, env, missing)
		}
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return client.ServerConfig{}, &mcperr.ValidationError{
			Msg:     fmt.Sprintf("resolving placeholders for server %s", srv.Name),
			Missing: names,
		}
	}

	return client.ServerConfig{
		ID:          srv.ID,
		Name:        srv.Name,
		Description: srv.Description,
		Transport:   srv.Transport,
		URL:         url,
		Headers:     headers,
		Timeout:     srv.Timeout,
		Retries:     srv.Retries,
		Enabled:     srv.Enabled,
	}, nil
}

// expand replaces every {{VAR}} with env[VAR], collecting unresolved names.
func expand(s string, env map[string]string, missing map[string]bool) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := env[name]
		if !ok {
			missing[name] = true
			return match
		}
		return value
	})
}
