// Copyright 2026 The cuenv Authors. All Rights Reserved.
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

package security

import "context"

type tokenContextKey struct{}

// WithToken returns a context carrying token, for a caller to present to a
// SecureCache-wrapped Cache.
func WithToken(ctx context.Context, token CapabilityToken) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext retrieves the token WithToken attached to ctx, if any.
func TokenFromContext(ctx context.Context) (CapabilityToken, bool) {
	t, ok := ctx.Value(tokenContextKey{}).(CapabilityToken)
	return t, ok
}
