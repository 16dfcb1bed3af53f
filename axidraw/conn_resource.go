package axidraw

import "periph.io/x/conn/v3"

// Session satisfies periph.io/x/conn/v3's conn.Resource: it can be
// named and halted like any other owned hardware resource, even though
// this driver doesn't sit on a periph.io bus.
var _ conn.Resource = (*Session)(nil)
