// Command cabctl books LuxSUV cabs and runs the admin dashboard from a
// terminal. It shares the session store and booking flow with the portal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/diagnosis/luxsuv-portal/internal/guard"
	"github.com/diagnosis/luxsuv-portal/internal/notify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := newApp(in, out, errOut)
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	if err := root.ExecuteContext(ctx); err != nil {
		report(errOut, err)
		return 1
	}
	return 0
}

// report prints err the way the web front end would show it. Errors outside
// the booking taxonomy, such as bad flags, are printed as they are.
func report(w io.Writer, err error) {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(w, "cancelled")
		return
	}

	n := notify.FromError(err)
	if n.Status == http.StatusInternalServerError {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", n.Level, n.Message)

	fields := make([]string, 0, len(n.Fields))
	for f := range n.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(w, "  %s: %s\n", f, n.Fields[f])
	}

	switch n.Redirect {
	case guard.UserLoginPath:
		fmt.Fprintln(w, "Run `cabctl login` to sign in again.")
	case guard.AdminLoginPath:
		fmt.Fprintln(w, "Run `cabctl admin login` to sign in again.")
	}
}
