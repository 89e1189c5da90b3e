package app

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxyfinder/internal/pool"
)

func newRequestCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request URL",
		Short: "Fetch a URL through a random working proxy of the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := loadPool(ctx, v)
			if err != nil {
				return err
			}
			opts, err := requestOptions(cmd, v)
			if err != nil {
				return err
			}

			resp, err := p.Request(ctx, args[0], opts)
			if err != nil {
				return err
			}
			log.Debug("Request served", "proxy", resp.Proxy, "status", resp.Status)
			_, err = cmd.OutOrStdout().Write(resp.Body)
			return err
		},
	}
	addPoolFlags(cmd)
	addRequestFlags(cmd)
	return cmd
}

func newBatchCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [URL...]",
		Short: "Fetch many URLs concurrently through the pool",
		Long: `Fetch every URL given as argument or listed in --urls through the pool.
One line per URL is printed in input order with its status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			urls := args
			if path := v.GetString("urls"); path != "" {
				fromFile, err := readLines(path)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return fmt.Errorf("no urls given")
			}

			p, err := loadPool(ctx, v)
			if err != nil {
				return err
			}
			common, err := requestOptions(cmd, v)
			if err != nil {
				return err
			}

			calls := make([]pool.Call, len(urls))
			for i, url := range urls {
				calls[i] = pool.Call{URL: url}
			}

			out := cmd.OutOrStdout()
			for i, result := range p.RequestMany(ctx, calls, common) {
				fmt.Fprintln(out, formatResult(urls[i], result))
			}
			return nil
		},
	}
	addPoolFlags(cmd)
	addRequestFlags(cmd)
	cmd.Flags().String("urls", "", "File with one URL per line")
	return cmd
}

func formatResult(url string, result pool.Result) string {
	switch result.Status {
	case pool.Succeeded:
		return fmt.Sprintf("%s\t%s\t%d bytes via %s", url, result.Response.Status, len(result.Response.Body), result.Response.Proxy)
	case pool.Failed:
		return fmt.Sprintf("%s\tfailed\t%v", url, result.Err)
	default:
		return fmt.Sprintf("%s\t%s", url, result.Status)
	}
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
