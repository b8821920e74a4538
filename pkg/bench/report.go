/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package bench

import (
	"io"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/msgq-zcpy/pkg/config"
	"github.com/srediag/msgq-zcpy/pkg/load"
	"github.com/srediag/msgq-zcpy/pkg/worker"
)

// Report is the outcome of one run.
type Report struct {
	Mode    config.Mode
	Workers []config.WorkerConfig
	Results []worker.Result
	// Elapsed covers spawn to join of the worker pool.
	Elapsed       time.Duration
	TotalMessages int
	PayloadSize   int
	Load          *load.Load
	VerifyErr     error
}

// Failed reports whether any worker failed or the data check did not pass.
func (rep *Report) Failed() bool {
	if rep.VerifyErr != nil {
		return true
	}
	for _, res := range rep.Results {
		if res.Err != nil {
			return true
		}
	}
	return false
}

// Render writes the human-readable report to w.
func (rep *Report) Render(w io.Writer) error {
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)

	for _, wc := range rep.Workers {
		_, _ = b.WriteString(wc.String())
		_ = b.WriteByte('\n')
	}
	for _, res := range rep.Results {
		_, _ = b.WriteString("Thread ")
		_, _ = b.WriteString(strconv.Itoa(res.Index))
		_, _ = b.WriteString(": ")
		if res.Err != nil {
			_, _ = b.WriteString("failed: ")
			_, _ = b.WriteString(res.Err.Error())
			_ = b.WriteByte('\n')
			continue
		}
		n := res.Sent
		if res.Received > n {
			n = res.Received
		}
		_, _ = b.WriteString(strconv.Itoa(n))
		_, _ = b.WriteString(" iterations took ")
		_, _ = b.WriteString(strconv.FormatInt(res.Elapsed.Microseconds(), 10))
		_, _ = b.WriteString(" usecs or ")
		_, _ = b.WriteString(strconv.FormatInt(res.PerMessage().Microseconds(), 10))
		_, _ = b.WriteString(" usecs/msg\n")
	}

	ms := strconv.FormatInt(rep.Elapsed.Milliseconds(), 10)
	if rep.Mode == config.ModePerThread {
		_, _ = b.WriteString("This use-case run took a total time of " + ms + " msecs to transport totally\n")
	} else {
		_, _ = b.WriteString("This run took a total return time of " + ms +
			" msecs to transport totally about " + strconv.Itoa(rep.TotalMessages) +
			" Messages each containing " + strconv.Itoa(rep.PayloadSize) +
			" bytes of data across " + strconv.Itoa(len(rep.Workers)) + " threads\n")
	}
	if rep.Load != nil {
		_, _ = b.WriteString(rep.Load.String())
		_ = b.WriteByte('\n')
	}
	if rep.VerifyErr != nil {
		_, _ = b.WriteString("dataTransact: Test Fail\n")
	} else {
		_, _ = b.WriteString("dataTransact: Test Pass\n")
	}
	_, err := b.WriteTo(w)
	return err
}
