// Package daemon runs the radio daemon as a supervised child process.
//
// On boards where nothing else starts the radio daemon, the gateway can
// own it: the supervisor launches the binary, waits until its socket
// accepts connections, forwards its output into the gateway log, and
// restarts it with exponential backoff when it dies. The radiod client's
// own reconnect loop picks the new instance up.
//
// Example usage:
//
//	sup, err := daemon.New(daemon.Config{
//	    Name:       "rfmd",
//	    Binary:     "/usr/sbin/rfmd",
//	    Args:       []string{"--listen", "tcp://127.0.0.1:6790"},
//	    ReadyCheck: func(ctx context.Context) error { return rfm.ProbeRadiod(ctx, url) },
//	}, log)
//	if err != nil {
//	    return err
//	}
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package daemon
