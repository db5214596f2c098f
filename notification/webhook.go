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

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/foodcat/catsync/config"
	redis_db "github.com/foodcat/catsync/internal/redis-db"
	"github.com/foodcat/catsync/internal/request"
	"github.com/foodcat/catsync/model"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"` // The event name, e.g. "request.completed".
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// WebhookFromEvent builds the outbound notification for an engine event.
func WebhookFromEvent(ev model.Event) NewWebhook {
	var payload interface{} = ev
	switch {
	case ev.StatusChanged != nil:
		payload = ev.StatusChanged
	case ev.ActionPerformed != nil:
		payload = ev.ActionPerformed
	}
	return NewWebhook{Event: ev.Name(), Payload: payload}
}

// processHTTP posts the notification to the configured webhook url.
func processHTTP(conf *config.Configuration, data NewWebhook) error {
	req, err := request.NewJSONRequest(context.Background(), http.MethodPost, conf.Notification.Webhook.Url, data)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := request.Call(req, nil)
	if err != nil {
		logrus.Errorf("Error sending webhook: %v", err)
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed with status code: %d", resp.StatusCode)
	}

	logrus.WithField("event", data.Event).Debug("webhook notification sent")
	return nil
}

func newWebhookTask(conf *config.Configuration, newWebhook NewWebhook) (*asynq.Task, error) {
	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return nil, err
	}
	queue := conf.Queue.WebhookQueue
	return asynq.NewTask(queue, payload, asynq.Queue(queue)), nil
}

// SendWebhook enqueues a single webhook notification task.
func SendWebhook(newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return err
	}
	client := asynq.NewClient(opt)
	defer func() { _ = client.Close() }()

	task, err := newWebhookTask(conf, newWebhook)
	if err != nil {
		return err
	}
	info, err := client.Enqueue(task)
	if err != nil {
		logrus.Error(err, info)
		return err
	}
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling task payload: %v", err)
		return err
	}
	logrus.Infof("Processing webhook: %s", payload.Event)
	return processHTTP(conf, payload)
}

// WebhookSink forwards engine events to the webhook queue over one asynq client.
type WebhookSink struct {
	conf   *config.Configuration
	client *asynq.Client
}

func NewWebhookSink(conf *config.Configuration) (*WebhookSink, error) {
	opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &WebhookSink{conf: conf, client: asynq.NewClient(opt)}, nil
}

func (w *WebhookSink) Send(ctx context.Context, ev model.Event) error {
	task, err := newWebhookTask(w.conf, WebhookFromEvent(ev))
	if err != nil {
		return err
	}
	_, err = w.client.EnqueueContext(ctx, task)
	return err
}

// Run consumes sub until it ends or ctx is done. Enqueue failures are logged
// and the event is dropped.
func (w *WebhookSink) Run(ctx context.Context, sub *Subscription[model.Event]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := w.Send(ctx, ev); err != nil {
				logrus.WithFields(logrus.Fields{"event": ev.Name(), "event_id": ev.EventID}).Errorf("failed to enqueue webhook: %v", err)
			}
		}
	}
}

func (w *WebhookSink) Close() error {
	return w.client.Close()
}
