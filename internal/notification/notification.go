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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/foodcat/catsync/config"
	"github.com/foodcat/catsync/internal/request"
	"github.com/sirupsen/logrus"
)

type errorListener struct {
	id int
	fn func(error)
}

var (
	listenersMu  sync.RWMutex
	listeners    []errorListener
	nextListener int
)

// RegisterErrorListener adds a callback invoked for every error passed to
// NotifyError. The returned func removes it again.
func RegisterErrorListener(fn func(error)) (remove func()) {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	nextListener++
	id := nextListener
	listeners = append(listeners, errorListener{id: id, fn: fn})
	return func() {
		listenersMu.Lock()
		defer listenersMu.Unlock()
		for i, l := range listeners {
			if l.id == id {
				listeners = append(listeners[:i:i], listeners[i+1:]...)
				return
			}
		}
	}
}

func resetErrorListeners() {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	listeners = nil
}

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(err error) error {
	conf, cfgErr := config.Fetch()
	if cfgErr != nil {
		return cfgErr
	}

	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From %s",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{"type": "mrkdwn", "text": "*Error:*\n%s"},
					{"type": "mrkdwn", "text": "*Time:*\n%s"}
				]
			}
		]
	}`, jsonEscape(conf.ProjectName), jsonEscape(err.Error()), time.Now().Format(time.RFC822)))

	payload, mErr := request.ToJsonReq(&data)
	if mErr != nil {
		return mErr
	}

	req, rErr := http.NewRequest(http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if rErr != nil {
		return rErr
	}

	resp, cErr := request.Call(req, nil)
	if cErr != nil {
		return cErr
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyError reports an infrastructure fault: it is logged, handed to the
// registered listeners and sent to Slack when configured. It never blocks the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		listenersMu.RLock()
		fns := make([]func(error), 0, len(listeners))
		for _, l := range listeners {
			fns = append(fns, l.fn)
		}
		listenersMu.RUnlock()
		for _, fn := range fns {
			fn(systemError)
		}

		conf, err := config.Fetch()
		if err != nil {
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			if err := SlackNotification(systemError); err != nil {
				logrus.Warnf("slack notification failed: %v", err)
			}
		}
	}(systemError)
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}
