package main

import "github.com/m2i-duo/mandoc-ocr-api/cmd/ocr/cmd"

func main() {
	cmd.Execute()
}
