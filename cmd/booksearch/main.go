package main

import "booksearch/internal/cli"

func main() {
	cli.Execute()
}
