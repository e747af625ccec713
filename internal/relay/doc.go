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
   Package relay runs the daemon: it owns the kernel and peer
   channels, relays in both directions at once and takes everything
   down when either direction stops.

   Startup is ordered. The peer transport comes up first because the
   kernel starts sending sessions as soon as we join its group, and
   those need somewhere to go. Any setup failure rolls back whatever
   was already up.

   Each direction runs in its own goroutine, blocked in its channel's
   receive. They share nothing but the two channels. Stopping one is
   cooperative: its context is cancelled, which interrupts the pending
   receive. If it doesn't stop within the cancel timeout the daemon
   closes the channels anyway, which unblocks any receive for good.
*/

package relay
