package main

import "kq-tunnel/internal/cli"

func main() {
	cli.Execute()
}
