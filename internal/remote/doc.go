// Package remote manages headless Vim servers driven through the editor's
// client/server interface.
//
// A Server owns one named editor process. Start spawns the binary with a
// unique --servername and blocks until the name shows up in --serverlist;
// Stop sends a forced quit-all and waits for the process to exit. While the
// server is up, RemoteSend injects keystrokes and RemoteExpr evaluates a
// Vim expression and returns its result.
//
// Example usage:
//
//	srv, err := remote.New(ctx, remote.Options{})
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop(ctx)
//
//	_ = srv.RemoteSend(ctx, "ihello<Esc>")
//	line, err := srv.RemoteExpr(ctx, "getline('.')")
//
// Binary selection lives in Resolver, unique server names in Registry.
package remote
