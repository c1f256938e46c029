package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// redacted replaces secrets in rendered output.
const redacted = "<redacted>"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command. The bot
// token is never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", displayPath(r.ConfigPath))

	token := ""
	if r.BotToken != "" {
		token = redacted
	}

	ew.printf("[bot]\n")
	ew.printf("  token               = %q\n", token)
	ew.printf("  allowed_handles     = [%s]\n", quoteList(r.AllowedHandles))
	ew.printf("  poll_timeout        = %q\n", r.PollTimeout)
	ew.printf("  max_concurrent      = %d\n", r.MaxConcurrent)
	ew.printf("  max_attachment_size = %q\n\n", humanize.Bytes(uint64(r.MaxAttachmentSize)))

	ew.printf("[store]\n")
	ew.printf("  backend     = %q\n", r.Store.Backend)
	ew.printf("  dir         = %q\n", r.Store.Dir)
	ew.printf("  sqlite_path = %q\n", r.Store.SQLitePath)
	ew.printf("  redis_url   = %q\n\n", redactURL(r.Store.RedisURL))

	ew.printf("[rate_limit]\n")
	ew.printf("  window = %q\n", r.RateWindow)
	ew.printf("  limit  = %d\n\n", r.RateLimit)

	ew.printf("[cloud]\n")
	ew.printf("  auth_url      = %q\n", r.Cloud.AuthURL)
	ew.printf("  discovery_url = %q\n", r.Cloud.DiscoveryURL)
	ew.printf("  device_desc   = %q\n\n", r.Cloud.DeviceDesc)

	ew.printf("[network]\n")
	ew.printf("  timeout    = %q\n", r.HTTPTimeout)
	ew.printf("  user_agent = %q\n\n", r.UserAgent)

	ew.printf("[logging]\n")
	ew.printf("  level  = %q\n", r.LogLevel)
	ew.printf("  format = %q\n\n", r.LogFormat)

	ew.printf("[metrics]\n")
	ew.printf("  listen_addr = %q\n", r.MetricsAddr)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func displayPath(p string) string {
	if p == "" {
		return "none"
	}

	return p
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}

// redactURL hides the password component of a connection URL.
func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")

	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}

	userinfo := raw[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		return raw[:scheme+3] + userinfo[:colon] + ":" + redacted + raw[at:]
	}

	return raw
}
