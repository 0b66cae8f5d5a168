package main

import "os"

func main() {
	if !Run(os.Args) {
		os.Exit(1)
	}
}
