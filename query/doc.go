// Copyright 2025 Poiesic Systems
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


// Package query plans and executes reads: hybrid semantic/lexical search
// over places with hard filters, and citation retrieval from a refreshable
// snapshot cache.
//
// The planner degrades instead of failing: a broken query embedding drops
// the semantic signal (lexical-only ranking), a missing vector index drops
// to a brute-force scan, and both are logged as degraded service. Filter
// validation is the one thing that fails fast, before any index is read.
package query
