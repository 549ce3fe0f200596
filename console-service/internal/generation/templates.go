package generation

// Template is a ready-made strategy script.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Code        string `json:"code"`
}

var templates = []Template{
	{
		ID:          "rsi_swing",
		Name:        "RSI Swing",
		Description: "Enter when RSI is oversold, exit when it is overbought",
		Color:       "#6366F1",
		Code: `function runTradingStrategy() {
  const rsi = SnapQuant.getRSI("TQQQ", 14);
  if (rsi < 30) {
    SnapQuant.placeOrder("TQQQ", "BUY", 5);
    SnapQuant.notify("RSI " + rsi + " - buy executed");
  } else if (rsi > 70) {
    SnapQuant.placeOrder("TQQQ", "SELL", 5);
    SnapQuant.notify("RSI " + rsi + " - sell executed");
  }
}`,
	},
	{
		ID:          "volatility_breakout",
		Name:        "Volatility Breakout",
		Description: "Breakout entry based on the previous day's high-low range",
		Color:       "#3B82F6",
		Code: `function runTradingStrategy() {
  const price = SnapQuant.getCurrentPrice("SPY");
  const ma20 = SnapQuant.getMovingAverage("SPY", 20);
  const range = price * 0.02; // 2% range
  if (price > ma20 + range) {
    SnapQuant.placeOrder("SPY", "BUY", 10);
    SnapQuant.notify("Breakout buy: $" + price);
  }
}`,
	},
	{
		ID:          "ma_crossover",
		Name:        "MA Crossover",
		Description: "Short and long moving average crossover signal",
		Color:       "#F59E0B",
		Code: `function runTradingStrategy() {
  const ma5 = SnapQuant.getMovingAverage("QQQ", 5);
  const ma20 = SnapQuant.getMovingAverage("QQQ", 20);
  if (ma5 > ma20) {
    SnapQuant.placeOrder("QQQ", "BUY", 3);
    SnapQuant.notify("Golden cross detected - buy");
  } else if (ma5 < ma20) {
    SnapQuant.placeOrder("QQQ", "SELL", 3);
    SnapQuant.notify("Dead cross detected - sell");
  }
}`,
	},
}

// Templates returns a copy of the built-in strategy templates.
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

// TemplateByID looks up a built-in template.
func TemplateByID(id string) (Template, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}
