package main

import "github.com/danthegoodman1/trackguard/cmd/trackguardd/cmd"

func main() {
	cmd.Execute()
}
