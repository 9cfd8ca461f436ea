package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zankora/agw/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Audit the running gateway's security posture",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	conn, err := dialGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	res, err := call(conn, protocol.MethodDoctorAudit, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if !res.OK {
		printErr(res)
		os.Exit(1)
	}

	var p struct {
		Findings []struct {
			Severity string `json:"severity"`
			Issue    string `json:"issue"`
			Detail   string `json:"detail"`
		} `json:"findings"`
		SelfTests []struct {
			Name string `json:"name"`
			OK   bool   `json:"ok"`
			Err  string `json:"err"`
		} `json:"self_tests"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(res.Payload, &p); err != nil {
		printJSON(res.Payload)
		return
	}

	fmt.Println("agw doctor")
	if len(p.Findings) == 0 {
		fmt.Println("  no findings")
	}
	for _, f := range p.Findings {
		fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Issue, f.Detail)
	}
	if len(p.SelfTests) > 0 {
		fmt.Println("\n  self-tests:")
		for _, st := range p.SelfTests {
			mark := "ok"
			if !st.OK {
				mark = "FAIL " + st.Err
			}
			fmt.Printf("    %-24s %s\n", st.Name, mark)
		}
	}
	if len(p.Suggestions) > 0 {
		fmt.Println("\n  suggestions:")
		for _, s := range p.Suggestions {
			fmt.Printf("    - %s\n", s)
		}
	}
}
