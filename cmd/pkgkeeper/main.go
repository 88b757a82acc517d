package main

import "pkgkeeper/internal/cli"

func main() {
	cli.Execute()
}
