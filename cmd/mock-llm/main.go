package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/tybalt/worklog-classifier/internal/mockllm"
)

func main() {
	addr := defaultString("MOCK_LLM_ADDR", ":8081")
	scriptPath := defaultString("MOCK_LLM_SCRIPT", "")
	token := defaultString("MOCK_LLM_TOKEN", "")

	fs := flag.NewFlagSet("mock-llm", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&scriptPath, "script", scriptPath, "YAML file with scripted rules (env: MOCK_LLM_SCRIPT)")
	fs.StringVar(&token, "token", token, "Require this bearer token when set (env: MOCK_LLM_TOKEN)")
	_ = fs.Parse(os.Args[1:])

	var script mockllm.Script
	if scriptPath != "" {
		var err error
		script, err = mockllm.LoadScript(scriptPath)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "script error: %v\n", err)
			os.Exit(2)
		}
	}

	srv := mockllm.New(script)
	srv.RequireBearerToken(token)

	_, _ = fmt.Fprintf(os.Stdout, "mock-llm listening on %s (rules=%d)\n", addr, len(script.Rules))
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
