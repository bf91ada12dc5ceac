// Command memberd runs and administers a membership ledger.
package main

import "github.com/tutu-network/memberledger/internal/cli"

func main() {
	cli.Execute()
}
