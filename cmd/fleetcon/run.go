package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/fleetcon"
	"pkt.systems/fleetcon/internal/jobapi"
	"pkt.systems/pslog"
)

const defaultSSHPort = 22

func newRunCmd() *cobra.Command {
	var flags clientFlags
	var playbookPath string
	var hosts []string
	var templateID int
	var extraVars string
	var params string
	var detach bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a playbook run and follow its output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			req, err := buildRunRequest(playbookPath, hosts, templateID, extraVars, params)
			if err != nil {
				return err
			}
			if detach {
				client, err := newAPIClient(cfg, pslog.Ctx(cmd.Context()))
				if err != nil {
					return err
				}
				run, err := client.StartRun(cmd.Context(), req)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), run.Token)
				return err
			}
			return attach(cmd, cfg, func(console *fleetcon.Console) error {
				run, err := console.StartRun(cmd.Context(), req)
				if err != nil {
					return err
				}
				pslog.Ctx(cmd.Context()).Info("run started", "token", run.Token, "keys", len(run.Keys))
				return nil
			})
		},
	}
	flags.bind(cmd)
	flags.bindConsole(cmd)
	cmd.Flags().StringVarP(&playbookPath, "playbook", "f", "", "playbook file to run")
	cmd.Flags().StringArrayVarP(&hosts, "host", "H", nil, "target as user[:password]@ip[:port] (repeatable)")
	cmd.Flags().IntVar(&templateID, "template-id", 0, "template id recorded with the run")
	cmd.Flags().StringVar(&extraVars, "extra-vars", "", "extra variables passed to the playbook")
	cmd.Flags().StringVar(&params, "params", "", "run parameters as a JSON object")
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "print the run token and exit")
	_ = cmd.MarkFlagRequired("playbook")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func buildRunRequest(playbookPath string, hosts []string, templateID int, extraVars, params string) (jobapi.RunRequest, error) {
	data, err := os.ReadFile(playbookPath)
	if err != nil {
		return jobapi.RunRequest{}, fmt.Errorf("read playbook: %w", err)
	}
	req := jobapi.RunRequest{
		TemplateID: templateID,
		Playbook:   string(data),
		ExtraVars:  extraVars,
	}
	for i, raw := range hosts {
		host, err := parseHost(raw)
		if err != nil {
			return jobapi.RunRequest{}, err
		}
		host.ID = i + 1
		req.HostList = append(req.HostList, host)
	}
	if strings.TrimSpace(params) != "" {
		if err := json.Unmarshal([]byte(params), &req.Params); err != nil {
			return jobapi.RunRequest{}, fmt.Errorf("parse --params: %w", err)
		}
	}
	return req, req.Validate()
}

// parseHost parses user[:password]@ip[:port].
func parseHost(raw string) (jobapi.Host, error) {
	userinfo, addr, ok := strings.Cut(strings.TrimSpace(raw), "@")
	if !ok || userinfo == "" || addr == "" {
		return jobapi.Host{}, fmt.Errorf("invalid host %q: expected user@ip[:port]", raw)
	}
	user, password, _ := strings.Cut(userinfo, ":")
	host := jobapi.Host{Username: user, Password: password, IP: addr, Port: defaultSSHPort}
	if h, p, err := net.SplitHostPort(addr); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return jobapi.Host{}, fmt.Errorf("invalid host %q: bad port %q", raw, p)
		}
		host.IP = h
		host.Port = port
	}
	if host.Username == "" || host.IP == "" {
		return jobapi.Host{}, fmt.Errorf("invalid host %q: expected user@ip[:port]", raw)
	}
	return host, nil
}
