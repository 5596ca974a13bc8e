// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llmclient

import "context"

// FakeClient is a scripted Client for tests in this module's other
// packages (judge, repair, llmedit) that need an LLM collaborator
// without a network call. Responses are served in order; once
// exhausted, Err (or a generic error) is returned.
type FakeClient struct {
	ModelName string
	Responses []Response
	Err       error

	Calls []Request

	next int
}

var _ Client = (*FakeClient)(nil)

func (f *FakeClient) Model() string {
	if f.ModelName == "" {
		return "fake-model"
	}
	return f.ModelName
}

func (f *FakeClient) Complete(_ context.Context, req Request) (*Response, error) {
	f.Calls = append(f.Calls, req)
	if f.next >= len(f.Responses) {
		if f.Err != nil {
			return nil, f.Err
		}
		return nil, errUnscripted
	}
	resp := f.Responses[f.next]
	f.next++
	return &resp, nil
}

var errUnscripted = &unscriptedCallError{}

type unscriptedCallError struct{}

func (*unscriptedCallError) Error() string {
	return "llmclient: fake client has no more scripted responses"
}
