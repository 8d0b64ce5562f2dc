// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"

	"github.com/NyaDerator/DiscordBridgeMC/internal/api"
)

const token = "s3cret"

// fakeServer prints the startup banner, one joined player, then answers
// console input like a vanilla server would.
const fakeServer = `#!/bin/sh
echo '[Server thread/INFO]: Done (0.5s)! For help, type "help"'
echo '[User Authenticator #1/INFO]: UUID of player Steve is 069a79f4-44e9-4726-a5be-fca90e38aaf5'
echo '[Server thread/INFO]: Steve joined the game'
while IFS= read -r line; do
  case "$line" in
    stop) echo '[Server thread/INFO]: Stopping server'; exit 0 ;;
    *bogus*) echo '[Server thread/INFO]: Unknown or incomplete command, see below for error' ;;
    *) echo "[Server thread/INFO]: ran $line" ;;
  esac
done
`

const configTemplate = `version: "1.0.0"
server:
  command: [sh, %q]
  dir: %q
  tick: 20ms
gateway:
  capture_window: 150ms
cooldowns:
  actor: 1m
  global: 0s
  tick: 50ms
  available_for: 1s
filters:
  command_blacklist: [%s]
api:
  listen: %q
  token: %q
  rate: 50
  burst: 50
observability:
  listen: %q
stats:
  backend: memory
log:
  format: json
  level: debug
`

func freeAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = l.Close() }()
	return l.Addr().String()
}

type bridge struct {
	dir        string
	configPath string
	apiAddr    string
	obsAddr    string
	session    *gexec.Session
}

func (b *bridge) writeConfig(blacklist string) {
	script := filepath.Join(b.dir, "server.sh")
	Expect(os.WriteFile(script, []byte(fakeServer), 0o700)).To(Succeed())
	cfg := fmt.Sprintf(configTemplate, script, b.dir, blacklist, b.apiAddr, token, b.obsAddr)
	Expect(os.WriteFile(b.configPath, []byte(cfg), 0o600)).To(Succeed())
}

func (b *bridge) call(method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://"+b.apiAddr+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, data
}

func (b *bridge) execute(target, command string) (int, api.ErrorResponse) {
	status, data := b.call(http.MethodPost, "/v1/execute", api.ExecuteRequest{
		Requester: "discord:1234",
		Target:    target,
		Command:   command,
	})
	var resp api.ErrorResponse
	Expect(json.Unmarshal(data, &resp)).To(Succeed(), string(data))
	return status, resp
}

func (b *bridge) status() (*api.StatusResponse, error) {
	req, err := http.NewRequest(http.MethodGet, "http://"+b.apiAddr+"/v1/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var s api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

var _ = Describe("Bridge", Ordered, func() {
	var b *bridge

	BeforeAll(func() {
		dir := GinkgoT().TempDir()
		b = &bridge{
			dir:        dir,
			configPath: filepath.Join(dir, "config.yaml"),
			apiAddr:    freeAddr(),
			obsAddr:    freeAddr(),
		}
		b.writeConfig(`op, stop`)

		check := exec.Command(bridgePath, "--config", b.configPath, "check")
		out, err := check.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), string(out))
		Expect(string(out)).To(ContainSubstring("configuration OK"))

		cmd := exec.Command(bridgePath, "--config", b.configPath, "serve")
		b.session, err = gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func(g Gomega) {
			s, err := b.status()
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(s.Server).NotTo(BeNil())
			g.Expect(s.Server.Ready).To(BeTrue())
			g.Expect(s.Players).To(Equal(1))
		}).WithTimeout(10 * time.Second).WithPolling(100 * time.Millisecond).Should(Succeed())
	})

	AfterAll(func() {
		if b == nil || b.session == nil {
			return
		}
		b.session.Interrupt()
		Eventually(b.session).WithTimeout(15 * time.Second).Should(gexec.Exit(0))
		Expect(b.session.Out).To(gbytes.Say("Stopping server"))
	})

	It("rejects callers without the token", func() {
		resp, err := http.Get("http://" + b.apiAddr + "/v1/status")
		Expect(err).NotTo(HaveOccurred())
		_ = resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("lists the joined player", func() {
		status, data := b.call(http.MethodGet, "/v1/players", nil)
		Expect(status).To(Equal(http.StatusOK))

		var players api.PlayersResponse
		Expect(json.Unmarshal(data, &players)).To(Succeed())
		Expect(players.Count).To(Equal(1))
		Expect(players.Players[0].Name).To(Equal("Steve"))
	})

	It("refuses blacklisted commands", func() {
		status, resp := b.execute("Steve", "op Steve")
		Expect(status).To(Equal(http.StatusForbidden))
		Expect(resp.Code).To(Equal("FILTERED_COMMAND"))
	})

	It("refuses unknown players", func() {
		status, resp := b.execute("Alex", "say hi")
		Expect(status).To(Equal(http.StatusNotFound))
		Expect(resp.Code).To(Equal("ACTOR_NOT_FOUND"))
	})

	It("reports commands the server rejects", func() {
		status, resp := b.execute("Steve", "bogus")
		Expect(status).To(Equal(http.StatusBadGateway))
		Expect(resp.Code).To(Equal("EXECUTION_FAILED"))
	})

	It("runs a command as the player and starts a cooldown", func() {
		status, resp := b.execute("Steve", "say hi")
		Expect(status).To(Equal(http.StatusOK), resp.Reason)
		Eventually(b.session.Out).Should(gbytes.Say(`ran execute as Steve at @s run say hi`))

		status, resp = b.execute("Steve", "say again")
		Expect(status).To(Equal(http.StatusTooManyRequests))
		Expect(resp.Code).To(Equal("ON_COOLDOWN"))
		Expect(resp.RemainingMS).To(BeNumerically(">", 0))
	})

	It("clears the cooldown on request", func() {
		status, _ := b.call(http.MethodDelete, "/v1/cooldowns/Steve", nil)
		Expect(status).To(Equal(http.StatusNoContent))

		status, resp := b.execute("Steve", "say again")
		Expect(status).To(Equal(http.StatusOK), resp.Reason)
	})

	It("applies a reloaded blacklist", func() {
		b.writeConfig(`op, stop, say`)
		status, data := b.call(http.MethodPost, "/v1/admin/reload", nil)
		Expect(status).To(Equal(http.StatusOK), string(data))

		var reload api.ReloadResponse
		Expect(json.Unmarshal(data, &reload)).To(Succeed())
		Expect(reload.Generation).To(BeNumerically(">=", 2))

		status, _ = b.call(http.MethodDelete, "/v1/cooldowns/Steve", nil)
		Expect(status).To(Equal(http.StatusNoContent))

		status, resp := b.execute("Steve", "say blocked")
		Expect(status).To(Equal(http.StatusForbidden))
		Expect(resp.Code).To(Equal("FILTERED_COMMAND"))
	})

	It("shows the running bridge in the status command", func() {
		cmd := exec.Command(bridgePath, "--config", b.configPath, "status")
		session, err := gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
		Expect(err).NotTo(HaveOccurred())
		Eventually(session).WithTimeout(5 * time.Second).Should(gexec.Exit(0))
		Expect(session.Out).To(gbytes.Say(`SERVER\s+ready`))
		Expect(session.Out).To(gbytes.Say(`PLAYERS\s+1 online`))
	})

	It("exports request metrics", func() {
		resp, err := http.Get("http://" + b.obsAddr + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("bridgemc_api_requests_total"))
		Expect(string(body)).To(ContainSubstring("bridgemc_players_online 1"))
	})
})
