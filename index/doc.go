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


// Package index provides the in-memory retrieval structures of venuedb:
// an HNSW graph for approximate nearest-neighbor search over embeddings,
// a weighted inverted index for lexical scoring, a haversine point index
// for radius queries, and a trigram index for approximate name matching.
//
// Indexes are derived state. They are rebuilt from the store on open and
// updated incrementally on writes; losing one is a performance event, not
// a data-loss event. Each index guards its own state with a RWMutex, so
// readers of different index types never contend with each other.
package index
