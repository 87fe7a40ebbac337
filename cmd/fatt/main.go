package main

import "github.com/raysh454/fatt/internal/cli"

func main() {
	cli.Execute()
}
