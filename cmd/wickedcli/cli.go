package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/bytesbymike/wicked/pkg/controlapi"
	"github.com/bytesbymike/wicked/pkg/version"
)

type CLI struct {
	client     *http.Client
	serverAddr string
	rl         *readline.Instance
	running    bool
}

func NewCLI(client *http.Client, serverAddr string) *CLI {
	return &CLI{
		client:     client,
		serverAddr: strings.TrimRight(serverAddr, "/"),
		running:    true,
	}
}

func (c *CLI) Run() error {
	var err error
	c.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "wicked> ",
		HistoryFile:     os.ExpandEnv("$HOME/.wickedcli_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer c.rl.Close()

	c.printBanner()

	for c.running {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if err == io.EOF {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := c.dispatch(line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return nil
}

func (c *CLI) Stop() {
	c.running = false
}

func (c *CLI) printBanner() {
	fmt.Printf("wickedcli %s - DHCPv6 client control shell\n", version.Full())
	fmt.Printf("connected to %s\n", c.serverAddr)
	fmt.Println("type 'help' for available commands")
	fmt.Println()
}

func (c *CLI) dispatch(line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		c.printHelp()
	case "interfaces", "if":
		return c.cmdInterfaces()
	case "lease":
		return c.cmdLease(args)
	case "renew":
		return c.cmdRenew(args)
	case "release":
		return c.cmdRelease(args)
	case "events":
		return c.cmdEvents()
	case "exit", "quit":
		c.running = false
	default:
		fmt.Printf("unknown command %q, type 'help'\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Println("commands:")
	fmt.Println("  interfaces            list managed interfaces and their state")
	fmt.Println("  lease <name>          show the current lease for an interface")
	fmt.Println("  renew <name>          trigger an early renew")
	fmt.Println("  release <name>        release the current lease")
	fmt.Println("  events                tail the live event stream (ctrl-c to stop)")
	fmt.Println("  exit                  leave the shell")
}

func (c *CLI) cmdInterfaces() error {
	var out []controlapi.DeviceView
	if err := c.getJSON("/v1/interfaces", &out); err != nil {
		return err
	}
	for _, d := range out {
		fmt.Printf("%-12s if_index=%-4d state=%s\n", d.Interface, d.IfIndex, d.State)
		if d.Lease != nil {
			fmt.Printf("  addresses=%v t1=%.0fs t2=%.0fs\n", d.Lease.Addresses, d.Lease.T1Seconds, d.Lease.T2Seconds)
		}
	}
	return nil
}

func (c *CLI) cmdLease(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lease <name>")
	}
	var out controlapi.LeaseView
	if err := c.getJSON("/v1/interfaces/"+args[0]+"/lease", &out); err != nil {
		return err
	}
	fmt.Printf("addresses=%v\nt1=%.0fs t2=%.0fs\nacquired_at=%s\n", out.Addresses, out.T1Seconds, out.T2Seconds, out.AcquiredAt)
	return nil
}

func (c *CLI) cmdRenew(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: renew <name>")
	}
	return c.postAction("/v1/interfaces/" + args[0] + "/renew")
}

func (c *CLI) cmdRelease(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: release <name>")
	}
	return c.postAction("/v1/interfaces/" + args[0] + "/release")
}

func (c *CLI) cmdEvents() error {
	resp, err := c.client.Get(c.serverAddr + "/v1/events")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.httpError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			fmt.Println(data)
		}
	}
	return scanner.Err()
}

func (c *CLI) getJSON(path string, out any) error {
	resp, err := c.client.Get(c.serverAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.httpError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *CLI) postAction(path string) error {
	resp, err := c.client.Post(c.serverAddr+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return c.httpError(resp)
	}
	fmt.Println("ok")
	return nil
}

func (c *CLI) httpError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("%s", resp.Status)
}
