package usbgadget

// logOutcome records one configfs step and passes its result through.
// Nothing is swallowed: an error is logged and returned as is.
func (c *Controller) logOutcome(op string, path string, outcome Outcome, err error) (Outcome, error) {
	if err != nil {
		c.log.Error().Err(err).Str("op", op).Str("path", path).Msg("configfs step failed")
		return outcome, err
	}

	c.log.Debug().Str("op", op).Str("path", path).Stringer("outcome", outcome).Msg("configfs step")
	return outcome, nil
}

func (c *Controller) logWarn(msg string, err error) {
	c.log.Warn().Err(err).Msg(msg)
}
