/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/foodcat/catsync/api/middleware"
	apimodel "github.com/foodcat/catsync/api/model"
	"github.com/foodcat/catsync/internal/request"
)

const clientTimeout = 30 * time.Second

// apiClient talks to a running catsync server.
type apiClient struct {
	base   string
	key    string
	client *http.Client
}

func newAPIClient(base, key string) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), key: key, client: &http.Client{Timeout: clientTimeout}}
}

// call sends payload to path and decodes a successful response into out.
// Error responses are turned into an error carrying the server message.
func (a *apiClient) call(ctx context.Context, method, path string, payload, out interface{}) error {
	req, err := request.NewJSONRequest(ctx, method, a.base+path, payload)
	if err != nil {
		return err
	}
	if a.key != "" {
		req.Header.Set(middleware.SecretKeyHeader, a.key)
	}

	var body json.RawMessage
	resp, err := request.Do(a.client, req, &body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

type submitFlags struct {
	server     string
	user       string
	env        string
	catalogue  string
	level      string
	note       string
	attachment string
}

// requestType derives the DCF request type from the command and level.
func requestType(action, level string) (string, error) {
	switch action {
	case "unreserve":
		return "UNRESERVE", nil
	case "upload":
		return "UPLOAD_XML_DATA", nil
	case "reserve", "publish":
		switch strings.ToUpper(level) {
		case "", "MINOR":
			return strings.ToUpper(action) + "_MINOR", nil
		case "MAJOR":
			return strings.ToUpper(action) + "_MAJOR", nil
		}
		return "", fmt.Errorf("level must be minor or major, got %q", level)
	}
	return "", fmt.Errorf("unknown action %q", action)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

func defaultServer(app *catsyncInstance) string {
	if app.cnf == nil {
		return ""
	}
	return "http://localhost:" + app.cnf.Server.Port
}

func secretKey(app *catsyncInstance) string {
	if app.cnf == nil || !app.cnf.Server.Secure {
		return ""
	}
	return app.cnf.Server.SecretKey
}

func submitCommand(app *catsyncInstance, action, short string) *cobra.Command {
	var f submitFlags
	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := requestType(action, f.level)
			if err != nil {
				return err
			}
			if action == "upload" && f.attachment == "" {
				return errors.New("--attachment is required for upload")
			}
			server := f.server
			if server == "" {
				server = defaultServer(app)
			}

			var created json.RawMessage
			err = newAPIClient(server, secretKey(app)).call(cmd.Context(), http.MethodPost, "/requests", apimodel.CreateRequest{
				Type:          t,
				Username:      f.user,
				Environment:   f.env,
				CatalogueCode: f.catalogue,
				Note:          f.note,
				Attachment:    f.attachment,
			}, &created)
			if err != nil {
				return err
			}
			return printJSON(created)
		},
	}
	cmd.Flags().StringVar(&f.server, "server", "", "catsync server url (defaults to the configured local server)")
	cmd.Flags().StringVar(&f.user, "user", os.Getenv("USER"), "DCF username the request is made for")
	cmd.Flags().StringVar(&f.env, "env", "", "DCF environment, PRODUCTION or TEST")
	cmd.Flags().StringVar(&f.catalogue, "catalogue", "", "catalogue code")
	switch action {
	case "reserve", "publish":
		cmd.Flags().StringVar(&f.level, "level", "minor", "minor or major")
	}
	if action == "reserve" {
		cmd.Flags().StringVar(&f.note, "note", "", "reservation note")
	}
	if action == "upload" {
		cmd.Flags().StringVar(&f.attachment, "attachment", "", "reference to the XML change file")
	}
	_ = cmd.MarkFlagRequired("catalogue")
	return cmd
}

func listCommand(app *catsyncInstance, use, short, path string, query func(cmd *cobra.Command) url.Values) *cobra.Command {
	var server string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = defaultServer(app)
			}
			q := url.Values{}
			if query != nil {
				q = query(cmd)
			}
			q.Set("limit", fmt.Sprint(limit))
			q.Set("offset", fmt.Sprint(offset))

			var out json.RawMessage
			if err := newAPIClient(server, secretKey(app)).call(cmd.Context(), http.MethodGet, path+"?"+q.Encode(), nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "catsync server url (defaults to the configured local server)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

// clientCommands returns the thin client commands that drive a running server.
func clientCommands(app *catsyncInstance) []*cobra.Command {
	requests := listCommand(app, "requests", "list pending requests", "/requests", func(cmd *cobra.Command) url.Values {
		q := url.Values{}
		for _, name := range []string{"catalogue_code", "type", "status"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				q.Set(name, v)
			}
		}
		return q
	})
	requests.Flags().String("catalogue_code", "", "only requests for this catalogue")
	requests.Flags().String("type", "", "only requests of this type")
	requests.Flags().String("status", "", "only requests in this status")

	return []*cobra.Command{
		submitCommand(app, "reserve", "reserve a catalogue in DCF"),
		submitCommand(app, "unreserve", "release a catalogue reservation"),
		submitCommand(app, "publish", "publish a reserved catalogue"),
		submitCommand(app, "upload", "upload an XML change file"),
		requests,
		listCommand(app, "catalogues", "list local catalogues", "/catalogues", nil),
	}
}
