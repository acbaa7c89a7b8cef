package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// statusCmd handles the status command.
func statusCmd(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { printStatusUsage(os.Stderr) }

	addr := fs.String("addr", "127.0.0.1:8080", "HTTP API address of the member")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	resp, err := httpClient.Get(apiURL(*addr, "/api/v1/status"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	return printResponse(resp, http.StatusOK)
}

// transferCmd handles the transfer-leadership command.
func transferCmd(args []string) int {
	fs := flag.NewFlagSet("transfer-leadership", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { printTransferUsage(os.Stderr) }

	addr := fs.String("addr", "127.0.0.1:8080", "HTTP API address of the leader")
	target := fs.Uint64("target", 0, "Member to hand leadership to")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	body, _ := json.Marshal(map[string]uint64{"targetId": *target})
	resp, err := httpClient.Post(apiURL(*addr, "/api/v1/leadership/transfer"), "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	return printResponse(resp, http.StatusAccepted)
}

func apiURL(addr, path string) string {
	return "http://" + addr + path
}

// printResponse copies the body to stdout on the expected status and to
// stderr otherwise.
func printResponse(resp *http.Response, want int) int {
	defer resp.Body.Close()

	out := io.Writer(os.Stdout)
	code := 0
	if resp.StatusCode != want {
		out = os.Stderr
		code = 1
	}

	var pretty bytes.Buffer
	data, _ := io.ReadAll(resp.Body)
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = append(pretty.Bytes(), '\n')
	}
	out.Write(data)
	return code
}
