/*
Package driver connects to a Piconet board and exchanges Econet traffic with it.

A Driver owns one board link. Connect opens the transport, reads the board status and checks the
firmware version; the driver is then Connected and accepts commands:

	d, err := driver.New(driver.WithLogger(logger.GetLogger()))
	if err != nil {
	    return err
	}
	if err := d.Connect(ctx, "/dev/ttyACM0"); err != nil {
	    return err
	}
	defer d.Close(context.Background())

	if err := d.SetEconetStation(ctx, 32); err != nil {
	    return err
	}
	result, err := d.Transmit(ctx, 254, 0, 0x80, 0x99, payload, nil)

# Events

Every line read from the board is decoded into an econet.Event and published on the driver's
event bus. Listeners registered with AddListener are invoked on the reader goroutine, in
registration order, and must not block.

Replies are correlated with requests by shape. WaitForEvent resolves with the first event
accepted by a Matcher; an EventQueue buffers every matching event until it is consumed:

	q := d.NewEventQueue(driver.MatchKind(econet.KindRxTransmit))
	defer q.Destroy()

	evt, err := q.Wait(ctx, 10*time.Second)

The board reports TX_RESULT and REPLY_RESULT without a request identifier. The driver's own
operations are serialized, so each gets its own result; callers issuing raw waits for those
kinds should do so from a single goroutine.

# Connection states

	Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected
	                    |             |
	                    +-> Error <---+

Error is entered when Connect fails or the link is lost, and is left by a new Connect.
*/
package driver
