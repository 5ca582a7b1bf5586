package main

import "carrec/internal/cli"

func main() {
	cli.Execute()
}
