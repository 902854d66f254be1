// Package process supervises a long-running child process.
//
// Transponder uses it to keep the audio capture command (arecord) alive:
// stdout is streamed into one continuous writer across restarts, stderr
// is logged line by line, and crashes are restarted with exponential
// backoff.
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "capture",
//	    Binary:           "arecord",
//	    Args:             []string{"--file-type", "raw", "--rate", "22050"},
//	    Stdout:           pipeWriter,
//	    RestartOnFailure: true,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
