package policy

import "regexp"

var (
	secretToken = regexp.MustCompile(`sk-[A-Za-z0-9_-]{12,}`)
	envVarName  = regexp.MustCompile(`(OPENROUTER|NEON|JULEHA|DATABASE)_[A-Z0-9_]+`)
	connString  = regexp.MustCompile(`postgres(ql)?://[^\s"']+`)
	bearerToken = regexp.MustCompile(`Bearer\s+[^\s"']+`)
)

// Redact removes secret-shaped material from a string before it is returned
// to a client or written to a log.
func Redact(s string) string {
	s = connString.ReplaceAllString(s, "[redacted-connection-string]")
	s = bearerToken.ReplaceAllString(s, "Bearer [redacted]")
	s = secretToken.ReplaceAllString(s, "[redacted-secret]")
	s = envVarName.ReplaceAllString(s, "[redacted-env-var]")
	return s
}

var sensitiveHeader = regexp.MustCompile(`(?i)^(authorization|cookie|set-cookie|proxy-authorization|x-api-key)$|(?i)(token|secret|password)`)

// IsSensitiveHeader reports whether a header name must be replaced with
// [redacted] in logs.
func IsSensitiveHeader(name string) bool {
	return sensitiveHeader.MatchString(name)
}
