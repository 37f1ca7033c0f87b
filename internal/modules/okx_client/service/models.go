package service

type Instrument struct {
	InstID   string `json:"instId"`
	InstType string `json:"instType"`
	TickSz   string `json:"tickSz"`
	LotSz    string `json:"lotSz"`
	MinSz    string `json:"minSz"`
	CtVal    string `json:"ctVal"`
	CtMult   string `json:"ctMult"`
	State    string `json:"state"`
}

type tickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
}

type orderData struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	State     string `json:"state"`
	Px        string `json:"px"`
	AvgPx     string `json:"avgPx"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
}

type algoData struct {
	InstID      string `json:"instId"`
	AlgoID      string `json:"algoId"`
	AlgoClOrdID string `json:"algoClOrdId"`
	Side        string `json:"side"`
	OrdType     string `json:"ordType"`
	State       string `json:"state"`
	Sz          string `json:"sz"`
	TriggerPx   string `json:"triggerPx"`
	ActualPx    string `json:"actualPx"`
	ActualSz    string `json:"actualSz"`
	OrdID       string `json:"ordId"`
}

type positionData struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	Lever   string `json:"lever"`
	MgnMode string `json:"mgnMode"`
}

type positionHistoryData struct {
	InstID string `json:"instId"`
	UTime  string `json:"uTime"`
}

type balanceData struct {
	Details []struct {
		Ccy      string `json:"ccy"`
		AvailBal string `json:"availBal"`
		CashBal  string `json:"cashBal"`
		Eq       string `json:"eq"`
	} `json:"details"`
}

type leverageData struct {
	InstID  string `json:"instId"`
	Lever   string `json:"lever"`
	MgnMode string `json:"mgnMode"`
}

type fillData struct {
	BillID  string `json:"billId"`
	InstID  string `json:"instId"`
	OrdID   string `json:"ordId"`
	Side    string `json:"side"`
	FillPx  string `json:"fillPx"`
	FillSz  string `json:"fillSz"`
	FillPnl string `json:"fillPnl"`
	Ts      string `json:"ts"`
}
