package storage

import logx "unibot/pkg/logx"

func nopLog() logx.Logger { return logx.Nop() }
