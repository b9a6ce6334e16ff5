package main

import (
	"bytes"
	"html/template"
	"time"
)

const dashboardHTML = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Memebank - {{.Network.Name}}</title>
    <meta http-equiv="refresh" content="{{.RefreshSec}}">
    <style>
        body { font-family: sans-serif; margin: 24px; }
        table { border-collapse: collapse; margin-bottom: 24px; }
        td, th { border: 1px solid #ccc; padding: 4px 12px; text-align: left; }
        .emergency { color: #c00; font-weight: bold; }
        .destructive { color: #c00; }
    </style>
</head>
<body>
    <div style="margin-bottom: 16px;">
        <b>Network:</b> {{.Network.Name}} ({{.Network.ChainIDHex}}) &nbsp;
        <b>Account:</b> {{if .Snapshot.Account}}{{.Snapshot.Account.Address.Hex}}{{else}}not connected{{end}} &nbsp;
        <b>Updated:</b> {{.Updated}}
    </div>
    {{if .Snapshot.Platform.IsEmergency}}<p class="emergency">Emergency mode is active</p>{{end}}

    <h2>Your Position</h2>
    <table>
        <tr><th>Collateral</th><td>{{.Snapshot.User.CollateralAmount}} {{.Network.CollateralSymbol}}</td></tr>
        <tr><th>Collateral value</th><td>{{.Snapshot.User.CollateralValue}} {{.Network.StableSymbol}}</td></tr>
        <tr><th>Borrowed</th><td>{{.Snapshot.User.BorrowedAmount}} {{.Network.StableSymbol}}</td></tr>
        <tr><th>Stable deposited</th><td>{{.Snapshot.User.StableDeposited}} {{.Network.StableSymbol}}</td></tr>
        <tr><th>Wallet</th><td>{{.Snapshot.Balances.Stable}} {{.Network.StableSymbol}} / {{.Snapshot.Balances.Collateral}} {{.Network.CollateralSymbol}}</td></tr>
    </table>

    <h2>Repayment</h2>
    <table>
        <tr><th>Status</th><td>{{.Snapshot.Repayment.Status}}</td></tr>
        <tr><th>Principal</th><td>{{.Snapshot.Repayment.Principal}}</td></tr>
        <tr><th>Interest</th><td>{{.Snapshot.Repayment.Interest}}</td></tr>
        <tr><th>Total</th><td>{{.Snapshot.Repayment.RepaymentAmount}}</td></tr>
        {{if .Borrowed}}<tr><th>Borrowed at</th><td>{{.Borrowed}}</td></tr>{{end}}
    </table>

    <h2>Platform</h2>
    <table>
        <tr><th>Total deposits</th><td>{{.Snapshot.Platform.TotalDeposits}}</td></tr>
        <tr><th>Total borrowed</th><td>{{.Snapshot.Platform.TotalBorrowed}}</td></tr>
        <tr><th>Available liquidity</th><td>{{.Snapshot.Platform.AvailableLiquidity}}</td></tr>
        <tr><th>{{.Network.CollateralSymbol}} price</th><td>{{.Snapshot.Platform.CurrentPrice}}</td></tr>
        <tr><th>Lending APR</th><td>{{.Snapshot.Rates.LendingInterest}}%</td></tr>
        <tr><th>Borrow APR</th><td>{{.Snapshot.Rates.BorrowInterest}}%</td></tr>
        <tr><th>Collateral ratio</th><td>{{.Snapshot.Platform.CollateralRatio}}%</td></tr>
    </table>

    {{if .History}}
    <h2>Transactions</h2>
    <table>
        <tr><th>Time</th><th>Action</th><th>Amount</th><th>Status</th><th>Hash</th></tr>
        {{range .History}}
        <tr>
            <td>{{.SubmittedAt.Format "2006-01-02 15:04:05"}}</td>
            <td>{{.Kind.Label}}</td>
            <td>{{.Amount}}</td>
            <td>{{.Status}}</td>
            <td>{{if .Explorer}}<a href="{{.Explorer}}">{{.Hash}}</a>{{else}}{{.Hash}}{{end}}</td>
        </tr>
        {{end}}
    </table>
    {{end}}

    {{if .Notifications}}
    <h2>Notifications</h2>
    <ul>
        {{range .Notifications}}<li class="{{.Variant}}"><b>{{.Title}}</b> {{.Description}}</li>{{end}}
    </ul>
    {{end}}
</body>
</html>
`

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardHTML))

type dashboardPage struct {
	Network       *Network
	Snapshot      Snapshot
	History       []*TxRecord
	Notifications []Notification
	RefreshSec    int
	Updated       string
	Borrowed      string
}

// RenderDashboard renders a self refreshing html view of a dashboard snapshot.
func RenderDashboard(network *Network, snapshot Snapshot, history []*TxRecord, notifications []Notification, refresh time.Duration) (string, error) {
	page := dashboardPage{
		Network:       network,
		Snapshot:      snapshot,
		History:       history,
		Notifications: notifications,
		RefreshSec:    max(int(refresh.Seconds()), 1),
		Updated:       "never",
	}
	if !snapshot.UpdatedAt.IsZero() {
		page.Updated = snapshot.UpdatedAt.Format(time.DateTime)
	}
	if snapshot.Repayment.Deadline > 0 {
		page.Borrowed = time.UnixMilli(snapshot.Repayment.Deadline).UTC().Format(time.DateTime)
	}

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, page); err != nil {
		return "", err
	}
	return buf.String(), nil
}
