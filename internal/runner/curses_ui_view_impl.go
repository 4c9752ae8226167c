package runner

import (
	"fmt"
	"log"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Page names for tview.Pages
const (
	pageLocationSource   = "location_source"
	pageWorkoutSelection = "workout_selection"
	pageRunDashboard     = "run_dashboard"
)

// CursesUIViewImpl implements UIViewImpl using tview (curses-based terminal UI)
type CursesUIViewImpl struct {
	logger      *log.Logger
	app         *tview.Application
	model       *SessionModel
	currentMode UIMode

	// Root container that holds all pages
	pages *tview.Pages

	// Shared components (visible in all modes)
	logView  *tview.TextView
	mainFlex *tview.Flex // Main layout: mode content on left, logs on right

	// Location Source mode components
	locationSourceFlex *tview.Flex
	podList            *tview.List
	connectedPodText   *tview.TextView
	locationTabWidgets []*tview.Box

	// Workout Selection mode components
	workoutSelectionFlex *tview.Flex
	selectionTabWidgets  []*tview.Box
	templateList         *tview.List
	templateDetailsPanel *tview.TextView
	templates            []WorkoutTemplate

	// Run Dashboard mode components
	runDashboardFlex    *tview.Flex
	dashboardTabWidgets []*tview.Box
	sessionPanel        *tview.TextView
	summaryPanel        *tview.TextView
	noticeText          *tview.TextView
}

func NewCursesUIView(logger *log.Logger, app *tview.Application, model *SessionModel) *CursesUIViewImpl {
	return &CursesUIViewImpl{
		logger:      logger,
		app:         app,
		model:       model,
		currentMode: UIModeLocationSource,
	}
}

// Initialize sets up the tview widgets
func (ui *CursesUIViewImpl) Initialize(controller *UIController) {
	// Create shared log view
	// Note: Don't use SetChangedFunc with app.Draw() - it can cause hangs during shutdown
	// when the app has been stopped but log messages are still being written.
	// The BaseUIView's event listeners already call Draw() after updating content.
	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	// Create pages container for mode switching
	ui.pages = tview.NewPages()

	// Initialize each mode
	ui.initLocationSourceMode(controller)
	ui.initWorkoutSelectionMode(controller)
	ui.initRunDashboardMode(controller)

	// Add pages
	ui.pages.AddPage(pageLocationSource, ui.locationSourceFlex, true, true)
	ui.pages.AddPage(pageWorkoutSelection, ui.workoutSelectionFlex, true, false)
	ui.pages.AddPage(pageRunDashboard, ui.runDashboardFlex, true, false)

	// Create main layout: pages on left, logs on right
	ui.mainFlex = tview.NewFlex().
		AddItem(ui.pages, 0, 2, true).
		AddItem(ui.logView, 0, 1, false)

	// Set initial focus
	ui.setFocusForCurrentMode()
}

// initLocationSourceMode sets up the Location Source mode UI
func (ui *CursesUIViewImpl) initLocationSourceMode(controller *UIController) {
	// Create instructions box at the top
	instructionsText := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	instructionsText.SetText("[yellow]S[white] Toggle Scan  |  [yellow]Enter[white] Connect  |  [yellow]D[white] Disconnect\n[yellow]1[white] Pods  |  [yellow]2[white] Workouts  |  [yellow]3[white] Dashboard")

	// Scanned pod list
	ui.podList = tview.NewList().
		ShowSecondaryText(false).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			pods := ui.model.GetScanPods()
			if index < 0 || index >= len(pods) {
				ui.logger.Printf("UI: pod index %d out of range (have %d pods)", index, len(pods))
				return
			}
			selected := pods[index]
			ui.logger.Printf("UI: pod selected: %s (%s)", selected.Name, selected.Address)
			controller.PodSelected(selected)
		})
	ui.podList.SetBorder(true).SetTitle(" Location Pods ")

	// Connected pod display under the list
	ui.connectedPodText = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.connectedPodText.SetBorder(true).SetTitle(" Connected ")
	ui.connectedPodText.SetText(" [gray]None[white]")

	ui.locationTabWidgets = append(ui.locationTabWidgets, ui.podList.Box)

	// Create location source layout: instructions at top, list and connected below
	ui.locationSourceFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructionsText, 2, 0, false).
		AddItem(ui.podList, 0, 4, true).
		AddItem(ui.connectedPodText, 3, 0, false)
}

// initWorkoutSelectionMode sets up the Workout Selection mode UI
func (ui *CursesUIViewImpl) initWorkoutSelectionMode(controller *UIController) {
	// Create template list for selecting workouts
	ui.templateList = tview.NewList().
		ShowSecondaryText(true).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			ui.logger.Printf("UI: workout selected: index=%d, name=%s", index, mainText)
			controller.OnTemplateSelected(index)
		}).
		SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			// Update details panel when selection changes
			ui.updateTemplateDetailsDisplay(index)
		})
	ui.templateList.SetBorder(true).SetTitle(" Workouts ")

	// Create template details panel
	ui.templateDetailsPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.templateDetailsPanel.SetBorder(true).SetTitle(" Workout Details ")
	ui.updateTemplateDetailsDisplay(-1) // Initialize with no selection

	ui.selectionTabWidgets = append(ui.selectionTabWidgets, ui.templateList.Box)
	ui.selectionTabWidgets = append(ui.selectionTabWidgets, ui.templateDetailsPanel.Box)

	// Create workout selection layout
	ui.workoutSelectionFlex = tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(ui.templateList, 0, 1, true).
		AddItem(ui.templateDetailsPanel, 0, 1, false)
}

// initRunDashboardMode sets up the Run Dashboard mode UI
func (ui *CursesUIViewImpl) initRunDashboardMode(controller *UIController) {
	// Create session panel for the live workout display
	ui.sessionPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.sessionPanel.SetBorder(true).SetTitle(" Session ")
	ui.updateSessionDisplay(SessionSnapshot{Status: StatusIdle})

	// Create summary panel for the last finished session
	ui.summaryPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.summaryPanel.SetBorder(true).SetTitle(" Last Session ")
	ui.summaryPanel.SetText("\n  [gray]No session finished yet[white]\n")

	// Notices (save failures and the like) show up below the panels
	ui.noticeText = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)

	ui.dashboardTabWidgets = append(ui.dashboardTabWidgets, ui.sessionPanel.Box)
	ui.dashboardTabWidgets = append(ui.dashboardTabWidgets, ui.summaryPanel.Box)

	// Create run dashboard layout: session + summary side by side, notices under
	panelsFlex := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(ui.sessionPanel, 0, 2, true).
		AddItem(ui.summaryPanel, 0, 1, false)

	ui.runDashboardFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(panelsFlex, 0, 1, true).
		AddItem(ui.noticeText, 1, 0, false)
}

// SetTemplateList populates the workout template list
func (ui *CursesUIViewImpl) SetTemplateList(templates []WorkoutTemplate) {
	ui.templates = templates
	ui.templateList.Clear()

	for _, template := range templates {
		durationStr := formatDuration(template.TotalDuration())
		ui.templateList.AddItem(template.Name, durationStr, 0, nil)
	}

	// Update details for first item if list is not empty
	if len(templates) > 0 {
		ui.updateTemplateDetailsDisplay(0)
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes >= 60 {
		hours := minutes / 60
		mins := minutes % 60
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%d min", minutes)
}

// updateTemplateDetailsDisplay formats and displays the template details
func (ui *CursesUIViewImpl) updateTemplateDetailsDisplay(index int) {
	if ui.templateDetailsPanel == nil {
		return
	}

	var text string

	if index < 0 || index >= len(ui.templates) {
		text = "\n\n  [yellow]Workout Selection[white]\n\n"
		text += "  Select a workout from the list to view details.\n\n"
		text += "  [gray]Press Enter to start the selected workout.[white]\n"
	} else {
		template := ui.templates[index]
		text = "\n"
		text += fmt.Sprintf("  [yellow]%s[white]\n\n", template.Name)
		text += fmt.Sprintf("  [gray]Duration:[white] %s\n", formatDuration(template.TotalDuration()))
		text += fmt.Sprintf("  [gray]Intervals:[white] %d\n\n", template.Intervals)

		// Show phase breakdown
		text += "  [gray]Structure:[white]\n"
		if template.WarmUpMinutes > 0 {
			text += fmt.Sprintf("    Warm up %s\n", formatMinutes(template.WarmUpMinutes))
		}
		text += fmt.Sprintf("    %d x (run %s, walk %s)\n", template.Intervals,
			formatMinutes(template.RunMinutes), formatMinutes(template.WalkMinutes))
		if template.CoolDownMinutes > 0 {
			text += fmt.Sprintf("    Cool down %s\n", formatMinutes(template.CoolDownMinutes))
		}
		text += "\n  [green]Press Enter to start this workout[white]\n"
	}

	ui.templateDetailsPanel.SetText(text)
}

// formatMinutes renders template minutes compactly: "5 min", "1.5 min".
func formatMinutes(minutes float64) string {
	if minutes == float64(int(minutes)) {
		return fmt.Sprintf("%d min", int(minutes))
	}
	return fmt.Sprintf("%.1f min", minutes)
}

// SetMode switches the UI to the specified mode
func (ui *CursesUIViewImpl) SetMode(mode UIMode) {
	if ui.currentMode == mode {
		return
	}

	ui.currentMode = mode

	switch mode {
	case UIModeLocationSource:
		ui.pages.SwitchToPage(pageLocationSource)
	case UIModeWorkoutSelection:
		ui.pages.SwitchToPage(pageWorkoutSelection)
	case UIModeRunDashboard:
		ui.pages.SwitchToPage(pageRunDashboard)
	}

	ui.setFocusForCurrentMode()
	ui.app.Draw()
}

// GetCurrentMode returns the currently active UI mode
func (ui *CursesUIViewImpl) GetCurrentMode() UIMode {
	return ui.currentMode
}

// setFocusForCurrentMode sets focus to the first widget in the current mode
func (ui *CursesUIViewImpl) setFocusForCurrentMode() {
	var widgets []*tview.Box
	switch ui.currentMode {
	case UIModeLocationSource:
		widgets = ui.locationTabWidgets
	case UIModeWorkoutSelection:
		widgets = ui.selectionTabWidgets
	case UIModeRunDashboard:
		widgets = ui.dashboardTabWidgets
	}

	if len(widgets) > 0 {
		ui.app.SetFocus(widgets[0])
	}
}

// getTabWidgetsForCurrentMode returns the tab widgets for the current mode
func (ui *CursesUIViewImpl) getTabWidgetsForCurrentMode() []*tview.Box {
	switch ui.currentMode {
	case UIModeLocationSource:
		return ui.locationTabWidgets
	case UIModeWorkoutSelection:
		return ui.selectionTabWidgets
	case UIModeRunDashboard:
		return ui.dashboardTabWidgets
	default:
		return nil
	}
}

// SetupKeyboardHandlers sets up keyboard event handlers
func (ui *CursesUIViewImpl) SetupKeyboardHandlers(controller *UIController) {
	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Number keys for mode switching (1-9)
		if event.Key() == tcell.KeyRune {
			if mode, ok := GetUIModeByKey(event.Rune()); ok {
				// Delegate to controller - it will update the model, which will notify us
				controller.OnModeChange(mode)
				return nil
			}
		}

		// Tab to switch focus between widgets in current mode
		if event.Key() == tcell.KeyTab {
			widgets := ui.getTabWidgetsForCurrentMode()
			widgetCount := len(widgets)
			if widgetCount > 0 {
				for i := 0; i < widgetCount+1; i++ {
					idx := i % widgetCount
					if widgets[idx].HasFocus() {
						nextIdx := (idx + 1) % widgetCount
						ui.app.SetFocus(widgets[nextIdx])
						break
					}
				}
			}
			return nil
		}

		// Escape to quit
		if event.Key() == tcell.KeyEscape {
			controller.OnEscapeKey()
			return nil
		}

		// Mode-specific key handlers
		switch ui.currentMode {
		case UIModeLocationSource:
			// 's' key to toggle scanning (only in location source mode)
			if event.Key() == tcell.KeyRune && event.Rune() == 's' {
				controller.TogglePodScan()
				return nil
			}
			// 'd' key to disconnect the connected pod
			if event.Key() == tcell.KeyRune && event.Rune() == 'd' {
				controller.DisconnectPod()
				return nil
			}
		case UIModeRunDashboard:
			// Space to pause/resume the workout
			if event.Key() == tcell.KeyRune && event.Rune() == ' ' {
				controller.ToggleWorkout()
				return nil
			}
			// 'x' to stop the workout
			if event.Key() == tcell.KeyRune && event.Rune() == 'x' {
				controller.StopWorkout()
				return nil
			}
		}

		return event
	})
}

// GetLogViewHeight returns the visible height of the log view
func (ui *CursesUIViewImpl) GetLogViewHeight() int {
	_, _, _, height := ui.logView.GetInnerRect()
	return height
}

// ClearLogView clears the log view
func (ui *CursesUIViewImpl) ClearLogView() {
	ui.logView.Clear()
}

// WriteLogLine writes a line to the log view. Buffered lines carry no
// trailing newline, so one is added here.
func (ui *CursesUIViewImpl) WriteLogLine(line string) error {
	_, err := fmt.Fprintln(ui.logView, line)
	return err
}

// SetPodList updates the scanned pod list
func (ui *CursesUIViewImpl) SetPodList(items []string) {
	currentSelectionIndex := ui.podList.GetCurrentItem()

	var currentSelectionText *string
	if currentSelectionIndex < ui.podList.GetItemCount() {
		main, _ := ui.podList.GetItemText(currentSelectionIndex)
		currentSelectionText = &main
	}

	ui.podList.Clear()

	selectedIdx := -1
	for i, item := range items {
		if currentSelectionText != nil && *currentSelectionText == item {
			selectedIdx = i
		}
		ui.podList.AddItem(item, "", 0, nil)
	}
	if selectedIdx > -1 {
		ui.podList.SetCurrentItem(selectedIdx)
	}
}

// SetConnectedPods updates the connected pod display
func (ui *CursesUIViewImpl) SetConnectedPods(pods []PodView) {
	if len(pods) == 0 {
		ui.connectedPodText.SetText(" [gray]None[white]")
		return
	}
	pod := pods[0]
	ui.connectedPodText.SetText(fmt.Sprintf(" [green]*[white] %s (%s)", pod.Name, pod.Address))
}

// Draw refreshes/redraws the UI
func (ui *CursesUIViewImpl) Draw() error {
	ui.app.Draw()
	return nil
}

// Run starts the UI and blocks until it exits
func (ui *CursesUIViewImpl) Run() error {
	// SetRoot must be called before setting focus, otherwise focus may be reset
	ui.app.SetRoot(ui.mainFlex, true)
	ui.setFocusForCurrentMode()
	return ui.app.Run()
}

// Stop stops the UI framework
func (ui *CursesUIViewImpl) Stop() {
	ui.app.Stop()
}

// UpdateTelemetry updates the live session display
func (ui *CursesUIViewImpl) UpdateTelemetry(snap SessionSnapshot) {
	ui.updateSessionDisplay(snap)
}

// updateSessionDisplay formats and displays the session state
func (ui *CursesUIViewImpl) updateSessionDisplay(snap SessionSnapshot) {
	if ui.sessionPanel == nil {
		return
	}

	var text string

	switch snap.Status {
	case StatusIdle:
		text = "\n  [gray]No workout running[white]\n\n"
		text += "  Go to Workout Selection (press 2) to pick one.\n"

	case StatusPreparing:
		text = "\n"
		text += fmt.Sprintf("  [yellow]%s[white]\n\n", snap.Name)
		text += fmt.Sprintf("  [green]Get ready![white]\n\n  Starting in [yellow]%d[white]\n", snap.CountdownValue)

	case StatusActive, StatusPaused:
		text = ui.formatActiveSessionDisplay(snap)

	case StatusCompleted:
		text = "\n  [green]Workout complete.[white]\n\n"
		text += "  Pick another in Workout Selection (press 2).\n"

	case StatusAborted:
		text = "\n  [gray]Workout stopped.[white]\n\n"
		text += "  Pick another in Workout Selection (press 2).\n"
	}

	ui.sessionPanel.SetText(text)
}

// formatActiveSessionDisplay formats the display for a running or paused session
func (ui *CursesUIViewImpl) formatActiveSessionDisplay(snap SessionSnapshot) string {
	var text string
	text = "\n"

	// Session name and status
	if snap.Paused {
		text += fmt.Sprintf("  [yellow]%s[white] [gray](PAUSED)[white]\n\n", snap.Name)
	} else {
		text += fmt.Sprintf("  [yellow]%s[white]\n\n", snap.Name)
	}

	// Current phase
	phaseColor := "[cyan]"
	if snap.PhaseKind == PhaseRunning {
		phaseColor = "[green]"
	}
	if snap.IntervalIndex >= 0 {
		// Counters only drop when a walk completes, so index+remaining is
		// the template's interval count throughout the run/walk pair.
		totalIntervals := snap.IntervalIndex + snap.RunsRemaining
		text += fmt.Sprintf("  %s%s[white]  (interval %d of %d)\n", phaseColor, snap.PhaseKind,
			snap.IntervalIndex+1, totalIntervals)
	} else {
		text += fmt.Sprintf("  %s%s[white]\n", phaseColor, snap.PhaseKind)
	}
	text += fmt.Sprintf("  [gray]Phase:[white]     %s / %s\n", formatDurationMMSS(snap.PhaseElapsed),
		formatDurationMMSS(snap.PhaseElapsed+snap.PhaseRemaining))
	text += fmt.Sprintf("  [gray]Remaining:[white] %s\n\n", formatDurationMMSS(snap.PhaseRemaining))

	// Session totals
	text += fmt.Sprintf("  [gray]Elapsed:[white]   %s\n", formatDurationMMSS(snap.SessionElapsed))
	text += fmt.Sprintf("  [gray]Intervals left:[white] %d\n\n", snap.RunsRemaining)

	// Distance and pace from the pod, when one is feeding us
	if snap.DistanceMeters > 0 {
		text += fmt.Sprintf("  [gray]Distance:[white]  %s\n", formatDistance(snap.DistanceMeters))
		text += fmt.Sprintf("  [gray]This phase:[white] %s\n", formatDistance(snap.PhaseDistanceMeters))
	}
	if snap.PaceSecPerMeter != nil {
		text += fmt.Sprintf("  [gray]Pace:[white]      %s\n", formatPace(*snap.PaceSecPerMeter))
	}

	// Controls hint
	if snap.Paused {
		text += "\n  [yellow]Space[white] Resume  |  [yellow]X[white] Stop\n"
	} else {
		text += "\n  [yellow]Space[white] Pause  |  [yellow]X[white] Stop\n"
	}

	return text
}

// UpdateSummary updates the last session display
func (ui *CursesUIViewImpl) UpdateSummary(summary SessionSummary) {
	if ui.summaryPanel == nil {
		return
	}

	text := "\n"
	text += fmt.Sprintf("  [yellow]%s[white]\n\n", summary.Name)
	text += fmt.Sprintf("  [gray]Finished:[white] %s\n", summary.EndedAt.Format("15:04"))
	text += fmt.Sprintf("  [gray]Duration:[white] %s\n", formatDurationMMSS(summary.TotalDuration))
	if summary.DistanceMeters > 0 {
		text += fmt.Sprintf("  [gray]Distance:[white] %s\n", formatDistance(summary.DistanceMeters))
	}
	if summary.AveragePace != nil {
		text += fmt.Sprintf("  [gray]Avg pace:[white] %s\n", formatPace(*summary.AveragePace))
	}

	ui.summaryPanel.SetText(text)
}

// UpdateNotice shows a transient warning line under the dashboard panels
func (ui *CursesUIViewImpl) UpdateNotice(text string) {
	if ui.noticeText == nil {
		return
	}
	ui.noticeText.SetText(fmt.Sprintf(" [yellow]%s[white]", text))
}

// formatDurationMMSS formats a duration as MM:SS
func formatDurationMMSS(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// formatDistance renders meters, switching to kilometers past 1 km.
func formatDistance(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.2f km", meters/1000)
	}
	return fmt.Sprintf("%.0f m", meters)
}

// formatPace renders seconds-per-meter as minutes per mile, the unit the
// voice cues speak.
func formatPace(secPerMeter float64) string {
	secPerMile := secPerMeter * 1609.344
	minutes := int(secPerMile) / 60
	seconds := int(secPerMile) % 60
	return fmt.Sprintf("%d:%02d /mi", minutes, seconds)
}
