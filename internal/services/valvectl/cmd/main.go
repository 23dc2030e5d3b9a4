// Command valvectl talks to the admin gRPC service of an irrigation node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/LeonardoBeccarini/irrigation_node/internal/services/valvectl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := valvectl.NewRootCmd(valvectl.GrpcDialer).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
