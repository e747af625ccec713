// Copyright 2026 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
   Package kernel talks to the NAT64 kernel module over generic
   netlink.

   The module multicasts the sessions it creates or updates to a
   dedicated netlink group. The channel joins that group, validates
   every message, hands session data to the peer transport and
   acknowledges it so the module keeps sending. Unicast messages are
   answers to requests we sent; they are only logged.

   In the other direction Send pushes what peers relayed to us back
   into the module.
*/

package kernel
