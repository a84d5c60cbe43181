package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/elisa-tech/BASIL-sub001/internal/model"
	"github.com/elisa-tech/BASIL-sub001/internal/runconfig"
)

// notify raises the notification for a finished run. Runs that did not reach
// a terminal status are skipped.
func (e *Engine) notify(ctx context.Context, run *model.Run, id runconfig.Identity) error {
	if run.Status != model.StatusCompleted && run.Status != model.StatusError {
		return nil
	}
	n := NewNotification(run, id, e.opts.AppURL)
	n.CreatedAt = e.clock.Now().UTC()
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// NewNotification builds the notification for a finished run.
func NewNotification(run *model.Run, id runconfig.Identity, appURL string) *model.Notification {
	category := model.NotifyDanger
	if run.Result == model.ResultPass {
		category = model.NotifySuccess
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Component: %s\n", id.API.Name)
	fmt.Fprintf(&desc, "Library: %s %s\n", id.API.Library, id.API.LibraryVersion)
	fmt.Fprintf(&desc, "Test case: %s\n", id.Mapping.TestCase.Title)
	fmt.Fprintf(&desc, "Result: %s", run.Result)

	return &model.Notification{
		APIID:       run.APIID,
		Category:    category,
		Title:       fmt.Sprintf("Test Run \"%s\" %s", run.Title, run.Result),
		Description: desc.String(),
		URL:         strings.TrimSuffix(appURL, "/") + "/mapping/" + strconv.FormatInt(run.APIID, 10),
	}
}
