package main

import "github.com/vietddude/peercall/internal/cli"

func main() {
	cli.Execute()
}
