package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/desertthunder/lsync/internal/services"
	"github.com/desertthunder/lsync/internal/shared"
)

// LSToken exchanges the configured refresh token for an access token.
func (r *Runner) LSToken(ctx context.Context, cmd *cli.Command) error {
	cache, err := r.tokenCache()
	if err != nil {
		return err
	}

	r.logger.Info("refreshing access token", "base_url", r.config.LabelStudio.BaseURL)
	access, err := cache.Refresh(ctx)
	if err != nil {
		return err
	}

	r.writePlain("✓ Refresh OK\n")
	r.writePlain("Access token: %s\n", shared.Truncate(access, 16)+"…")
	if exp := cache.Expiry(); !exp.IsZero() {
		r.writePlain("Expires: %s (in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
	}
	return nil
}

// api returns a raw client authenticated with the refresh-token cache.
func (r *Runner) api(ctx context.Context) (*services.APIService, error) {
	cache, err := r.tokenCache()
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	return services.NewAPIService(r.config.LabelStudio.BaseURL, services.NewAuthorizedClient(ctx, cache)), nil
}

// LSGet makes a direct GET request to Label Studio
func (r *Runner) LSGet(ctx context.Context, cmd *cli.Command) error {
	path, err := apiPath(cmd.StringArg("path"))
	if err != nil {
		return err
	}
	api, err := r.api(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("GET request", "path", path)

	resp, err := api.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp, !cmd.Bool("json"))
}

// LSPost makes a direct POST request to Label Studio
func (r *Runner) LSPost(ctx context.Context, cmd *cli.Command) error {
	path, err := apiPath(cmd.StringArg("path"))
	if err != nil {
		return err
	}

	data := cmd.String("data")
	if data == "" {
		return fmt.Errorf("%w: --data flag is required", shared.ErrMissingArgument)
	}
	var jsonTest any
	if err := json.Unmarshal([]byte(data), &jsonTest); err != nil {
		return fmt.Errorf("%w: data is not valid JSON: %v", shared.ErrInvalidInput, err)
	}

	api, err := r.api(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("POST request", "path", path)

	resp, err := api.Post(ctx, path, []byte(data))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp, true)
}

func (r *Runner) writeResponse(resp *services.APIResponse, pretty bool) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, shared.Truncate(string(resp.Body), 500))
	}

	if resp.IsJSON {
		return r.writeJSON(resp.JSONData, pretty)
	}

	r.output.Write(resp.Body)
	r.output.Write([]byte("\n"))
	return nil
}

func apiPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: path is required, e.g. /api/projects", shared.ErrMissingArgument)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, nil
}

func (r *Runner) projectID(cmd *cli.Command) int64 {
	if id := cmd.Int64("project"); id > 0 {
		return id
	}
	return r.config.LabelStudio.ProjectID
}

// LSMaxID prints the highest task id in the project.
func (r *Runner) LSMaxID(ctx context.Context, cmd *cli.Command) error {
	client, _, err := r.labelStudio()
	if err != nil {
		return err
	}

	projectID := r.projectID(cmd)
	maxID, err := client.MaxTaskID(ctx, projectID)
	if err != nil {
		return err
	}
	return r.writePlain("Project %d: max task id %d\n", projectID, maxID)
}

// LSOpen opens the project's data manager in the default browser.
func (r *Runner) LSOpen(ctx context.Context, cmd *cli.Command) error {
	target, err := shared.ProjectURL(r.config.LabelStudio.BaseURL, r.projectID(cmd))
	if err != nil {
		return err
	}

	r.logger.Info("opening browser", "url", target)
	if err := shared.OpenBrowser(target); err != nil {
		r.writePlain("Could not open a browser; visit %s\n", target)
		return err
	}
	return r.writePlain("Opened %s\n", target)
}
