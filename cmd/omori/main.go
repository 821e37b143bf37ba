package main

import "aftershock-omori/internal/cli"

func main() {
	cli.Execute()
}
