// Package osutil wraps the handful of POSIX calls a daemon needs before it
// can run application code: resource limits, session creation, standard
// stream redirection, privilege dropping and process liveness checks.
package osutil
