package main

import (
    "bytes"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "os"
    "strconv"
    "time"

    "github.com/fatih/color"
    "github.com/olekukonko/tablewriter"
    "github.com/spf13/cobra"

    "github.com/etncore/ars/internal/models"
    "github.com/etncore/ars/internal/router"
)

var adminAddr string

var (
    green  = color.New(color.FgGreen).SprintFunc()
    red    = color.New(color.FgRed).SprintFunc()
    yellow = color.New(color.FgYellow).SprintFunc()
    bold   = color.New(color.Bold).SprintFunc()
)

// The CLI talks to a running engine over its admin API.

func apiCall(method, path string, body interface{}, out interface{}) error {
    var reader io.Reader
    if body != nil {
        data, err := json.Marshal(body)
        if err != nil {
            return err
        }
        reader = bytes.NewReader(data)
    }

    req, err := http.NewRequest(method, adminAddr+path, reader)
    if err != nil {
        return err
    }
    if body != nil {
        req.Header.Set("Content-Type", "application/json")
    }

    client := &http.Client{Timeout: 10 * time.Second}
    resp, err := client.Do(req)
    if err != nil {
        return fmt.Errorf("cannot reach engine at %s: %v", adminAddr, err)
    }
    defer resp.Body.Close()

    if resp.StatusCode >= 400 {
        var apiErr struct {
            Error string `json:"error"`
        }
        json.NewDecoder(resp.Body).Decode(&apiErr)
        if apiErr.Error != "" {
            return fmt.Errorf("%s", apiErr.Error)
        }
        return fmt.Errorf("request failed with status %d", resp.StatusCode)
    }

    if out != nil {
        return json.NewDecoder(resp.Body).Decode(out)
    }
    return nil
}

func createRouteCommands() *cobra.Command {
    routeCmd := &cobra.Command{
        Use:   "route",
        Short: "Inspect routes",
    }

    routeCmd.AddCommand(
        &cobra.Command{
            Use:   "list",
            Short: "List all routes",
            RunE: func(cmd *cobra.Command, args []string) error {
                var routes []models.Route
                if err := apiCall("GET", "/api/v1/routes", nil, &routes); err != nil {
                    return err
                }

                if len(routes) == 0 {
                    fmt.Println("No routes configured")
                    return nil
                }

                table := tablewriter.NewWriter(os.Stdout)
                table.SetHeader([]string{"Name", "Facility", "Class", "Min FRL", "Limit", "Queue", "Expensive", "Window"})
                table.SetBorder(false)
                table.SetAutoWrapText(false)

                for _, r := range routes {
                    queue := green("yes")
                    if r.QueueForbidden() {
                        queue = red("no")
                    }
                    expensive := ""
                    if r.Expensive {
                        expensive = yellow("MER")
                    }
                    limit := "∞"
                    if r.Limit > 0 {
                        limit = strconv.Itoa(r.Limit)
                    }
                    table.Append([]string{
                        r.Name,
                        r.Facility,
                        string(r.Class),
                        strconv.Itoa(r.MinFRL),
                        limit,
                        queue,
                        expensive,
                        r.TimeRestriction,
                    })
                }

                table.Render()
                return nil
            },
        },
        &cobra.Command{
            Use:   "show <name>",
            Short: "Show one route",
            Args:  cobra.ExactArgs(1),
            RunE: func(cmd *cobra.Command, args []string) error {
                var route models.Route
                if err := apiCall("GET", "/api/v1/routes/"+args[0], nil, &route); err != nil {
                    return err
                }
                return printJSON(route)
            },
        },
    )

    return routeCmd
}

func createProfileCommands() *cobra.Command {
    profileCmd := &cobra.Command{
        Use:   "profile",
        Short: "Inspect network profiles",
    }

    profileCmd.AddCommand(
        &cobra.Command{
            Use:   "list",
            Short: "List all profiles",
            RunE: func(cmd *cobra.Command, args []string) error {
                var profiles []models.Profile
                if err := apiCall("GET", "/api/v1/profiles", nil, &profiles); err != nil {
                    return err
                }

                if len(profiles) == 0 {
                    fmt.Println("No profiles configured")
                    return nil
                }

                table := tablewriter.NewWriter(os.Stdout)
                table.SetHeader([]string{"Name", "Routes", "MER Tone", "Upgrade", "Call-Back"})
                table.SetBorder(false)

                for _, p := range profiles {
                    upgrade := red("no")
                    if p.UpgradeEnabled {
                        upgrade = green(fmt.Sprintf("yes (%d digits)", p.UpgradeDigits))
                    }
                    callback := red("no")
                    if p.CallbackEnabled() {
                        callback = green("yes")
                    }
                    tone := "off"
                    if p.ExpensiveTone {
                        tone = "on"
                    }
                    table.Append([]string{
                        p.Name,
                        strconv.Itoa(len(p.Routes)),
                        tone,
                        upgrade,
                        callback,
                    })
                }

                table.Render()
                return nil
            },
        },
        &cobra.Command{
            Use:   "show <name>",
            Short: "Show one profile",
            Args:  cobra.ExactArgs(1),
            RunE: func(cmd *cobra.Command, args []string) error {
                var profile models.Profile
                if err := apiCall("GET", "/api/v1/profiles/"+args[0], nil, &profile); err != nil {
                    return err
                }
                return printJSON(profile)
            },
        },
    )

    return profileCmd
}

func createCallsCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "calls",
        Short: "Show the live call ledger",
        RunE: func(cmd *cobra.Command, args []string) error {
            var calls []models.CallSnapshot
            if err := apiCall("GET", "/api/v1/calls", nil, &calls); err != nil {
                return err
            }

            if len(calls) == 0 {
                fmt.Println("Ledger is empty")
                return nil
            }

            table := tablewriter.NewWriter(os.Stdout)
            table.SetHeader([]string{"Leg", "Profile", "Route", "Facility", "Caller", "Called", "State", "Pri", "Level", "Elapsed"})
            table.SetBorder(false)

            for _, c := range calls {
                state := green("active")
                if c.Queued {
                    state = yellow("queued")
                    if c.Callback {
                        state = yellow("call-back")
                    }
                }
                table.Append([]string{
                    c.LegID,
                    c.Profile,
                    c.Route,
                    c.Facility,
                    c.Caller,
                    c.Called,
                    state,
                    strconv.Itoa(c.Priority),
                    c.Level.String(),
                    fmt.Sprintf("%.0fs", c.Elapsed),
                })
            }

            table.Render()
            return nil
        },
    }
}

func createRecordsCommand() *cobra.Command {
    var limit int

    cmd := &cobra.Command{
        Use:   "records",
        Short: "Show recent call-detail records",
        RunE: func(cmd *cobra.Command, args []string) error {
            var records []map[string]interface{}
            path := fmt.Sprintf("/api/v1/records?limit=%d", limit)
            if err := apiCall("GET", path, nil, &records); err != nil {
                return err
            }

            if len(records) == 0 {
                fmt.Println("No call-detail records")
                return nil
            }

            table := tablewriter.NewWriter(os.Stdout)
            table.SetHeader([]string{"Leg", "Profile", "Route", "Caller", "Called", "FRL", "TCM", "Result"})
            table.SetBorder(false)

            for _, r := range records {
                result := fmt.Sprintf("%v", r["result"])
                if result == "success" {
                    result = green(result)
                } else {
                    result = red(result)
                }
                table.Append([]string{
                    fmt.Sprintf("%v", r["leg_id"]),
                    fmt.Sprintf("%v", r["profile"]),
                    fmt.Sprintf("%v", r["route"]),
                    fmt.Sprintf("%v", r["caller"]),
                    fmt.Sprintf("%v", r["called"]),
                    fmt.Sprintf("%v", r["frl"]),
                    fmt.Sprintf("%v", r["tcm"]),
                    result,
                })
            }

            table.Render()
            return nil
        },
    }

    cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum records to show")
    return cmd
}

func createSimulateCommand() *cobra.Command {
    var (
        profile string
        frl     int
        level   int
    )

    cmd := &cobra.Command{
        Use:   "simulate",
        Short: "Predict routing for a hypothetical call",
        RunE: func(cmd *cobra.Command, args []string) error {
            req := router.SimulationRequest{
                Profile: profile,
                FRL:     frl,
                Level:   models.Precedence(level),
            }

            var steps []router.SimulationStep
            if err := apiCall("POST", "/api/v1/simulate", req, &steps); err != nil {
                return err
            }

            table := tablewriter.NewWriter(os.Stdout)
            table.SetHeader([]string{"#", "Route", "Facility", "Disposition", "Reason", "Queue OK"})
            table.SetBorder(false)

            for i, s := range steps {
                disp := s.Disposition
                switch disp {
                case "success":
                    disp = green(disp)
                case "unauthorized":
                    disp = red(disp)
                default:
                    disp = yellow(disp)
                }
                queueOK := ""
                if s.QueueOK {
                    queueOK = green("yes")
                }
                table.Append([]string{
                    strconv.Itoa(i + 1),
                    s.Route,
                    s.Facility,
                    disp,
                    s.Reason,
                    queueOK,
                })
            }

            table.Render()
            return nil
        },
    }

    cmd.Flags().StringVarP(&profile, "profile", "p", "", "Network profile")
    cmd.Flags().IntVar(&frl, "frl", 0, "Caller facility restriction level (0-7)")
    cmd.Flags().IntVar(&level, "level", 0, "Precedence level")
    cmd.MarkFlagRequired("profile")

    return cmd
}

func createPreemptCommand() *cobra.Command {
    var level int

    cmd := &cobra.Command{
        Use:   "preempt <facility>",
        Short: "Preempt an active call on a facility",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            req := map[string]interface{}{
                "facility": args[0],
                "level":    level,
            }

            var resp struct {
                Outcome string `json:"outcome"`
            }
            if err := apiCall("POST", "/api/v1/preempt", req, &resp); err != nil {
                return err
            }

            switch resp.Outcome {
            case "preempted":
                fmt.Printf("%s Call preempted on facility '%s'\n", green("✓"), args[0])
            case "no-candidates":
                fmt.Printf("%s No preemptable call on facility '%s'\n", yellow("!"), args[0])
            default:
                fmt.Printf("%s Preemption not authorized at level %d\n", red("✗"), level)
            }
            return nil
        },
    }

    cmd.Flags().IntVar(&level, "level", 1, "Precedence level of the preempting demand")
    return cmd
}

func createCallbackCommands() *cobra.Command {
    callbackCmd := &cobra.Command{
        Use:   "callback",
        Short: "Manage pending call-back entries",
    }

    callbackCmd.AddCommand(
        &cobra.Command{
            Use:   "cancel <leg-id>",
            Short: "Cancel one pending call-back",
            Args:  cobra.ExactArgs(1),
            RunE: func(cmd *cobra.Command, args []string) error {
                if err := apiCall("DELETE", "/api/v1/callbacks/"+args[0], nil, nil); err != nil {
                    return err
                }
                fmt.Printf("%s Call-back '%s' cancelled\n", green("✓"), args[0])
                return nil
            },
        },
        &cobra.Command{
            Use:   "cancel-all",
            Short: "Cancel every pending call-back",
            RunE: func(cmd *cobra.Command, args []string) error {
                var resp struct {
                    Cancelled int `json:"cancelled"`
                }
                if err := apiCall("DELETE", "/api/v1/callbacks", nil, &resp); err != nil {
                    return err
                }
                fmt.Printf("%s %d call-back(s) cancelled\n", green("✓"), resp.Cancelled)
                return nil
            },
        },
    )

    return callbackCmd
}

func createChannelsCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "channels",
        Short: "Show the switch's live channels",
        RunE: func(cmd *cobra.Command, args []string) error {
            var channels []map[string]string
            if err := apiCall("GET", "/api/v1/channels", nil, &channels); err != nil {
                return err
            }

            if len(channels) == 0 {
                fmt.Println("No active channels")
                return nil
            }

            table := tablewriter.NewWriter(os.Stdout)
            table.SetHeader([]string{"Channel", "State", "Caller", "Application", "Duration"})
            table.SetBorder(false)
            table.SetAutoWrapText(false)

            for _, c := range channels {
                table.Append([]string{
                    c["Channel"],
                    c["ChannelStateDesc"],
                    c["CallerIDNum"],
                    c["Application"],
                    c["Duration"],
                })
            }

            table.Render()
            return nil
        },
    }
}

func createStatsCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "stats",
        Short: "Show engine statistics",
        RunE: func(cmd *cobra.Command, args []string) error {
            var stats map[string]interface{}
            if err := apiCall("GET", "/api/v1/stats", nil, &stats); err != nil {
                return err
            }

            fmt.Println(bold("Engine statistics"))
            return printJSON(stats)
        },
    }
}

func createReloadCommand() *cobra.Command {
    return &cobra.Command{
        Use:   "reload",
        Short: "Reload routes, profiles and auth codes from configuration",
        RunE: func(cmd *cobra.Command, args []string) error {
            if err := apiCall("POST", "/api/v1/reload", nil, nil); err != nil {
                return err
            }
            fmt.Printf("%s Configuration reloaded\n", green("✓"))
            return nil
        },
    }
}

func printJSON(v interface{}) error {
    data, err := json.MarshalIndent(v, "", "  ")
    if err != nil {
        return err
    }
    fmt.Println(string(data))
    return nil
}
